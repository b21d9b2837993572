package patient

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/errs"
	"github.com/hms/hms/internal/platform/sequence"
)

// -- Mocks --

type passTx struct{}

func (passTx) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockAlloc struct {
	counters map[string]int64
}

func newMockAlloc() *mockAlloc { return &mockAlloc{counters: make(map[string]int64)} }

func (m *mockAlloc) Allocate(_ context.Context, entity sequence.Entity, at time.Time) (string, error) {
	key, err := sequence.Key(entity, at)
	if err != nil {
		return "", err
	}
	m.counters[key]++
	return sequence.Format(entity, at, m.counters[key])
}

type mockRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockRepo() *mockRepo { return &mockRepo{patients: make(map[uuid.UUID]*Patient)} }

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.VersionID = 1
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, errs.NotFound("patient")
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByPatientID(_ context.Context, patientID string) (*Patient, error) {
	for _, p := range m.patients {
		if p.PatientID == patientID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.NotFound("patient")
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	stored, ok := m.patients[p.ID]
	if !ok {
		return errs.NotFound("patient")
	}
	if stored.VersionID != p.VersionID {
		return errs.Conflict("patient was modified concurrently", nil)
	}
	p.VersionID++
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		if status := params["status"]; status != "" && p.Status != status {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	return result, len(result), nil
}

type mockVitalsRepo struct {
	snapshots []*VitalsSnapshot
}

func (m *mockVitalsRepo) Append(_ context.Context, v *VitalsSnapshot) error {
	v.ID = uuid.New()
	cp := *v
	m.snapshots = append(m.snapshots, &cp)
	return nil
}

func (m *mockVitalsRepo) LatestMeasurements(_ context.Context, patientID uuid.UUID) (*decimal.Decimal, *decimal.Decimal, error) {
	var ordered []*VitalsSnapshot
	for _, v := range m.snapshots {
		if v.PatientID == patientID {
			ordered = append(ordered, v)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].RecordedAt.After(ordered[j].RecordedAt) })

	var height, weight *decimal.Decimal
	for _, v := range ordered {
		if height == nil && v.HeightCm != nil {
			height = v.HeightCm
		}
		if weight == nil && v.WeightKg != nil {
			weight = v.WeightKg
		}
	}
	return height, weight, nil
}

func (m *mockVitalsRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalsSnapshot, int, error) {
	var result []*VitalsSnapshot
	for _, v := range m.snapshots {
		if v.PatientID == patientID {
			cp := *v
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RecordedAt.After(result[j].RecordedAt) })
	return result, len(result), nil
}

type mockAllergyRepo struct {
	entries map[uuid.UUID]*AllergyEntry
}

func newMockAllergyRepo() *mockAllergyRepo {
	return &mockAllergyRepo{entries: make(map[uuid.UUID]*AllergyEntry)}
}

func (m *mockAllergyRepo) Add(_ context.Context, a *AllergyEntry) error {
	a.ID = uuid.New()
	cp := *a
	m.entries[a.ID] = &cp
	return nil
}

func (m *mockAllergyRepo) Get(_ context.Context, patientID, entryID uuid.UUID) (*AllergyEntry, error) {
	a, ok := m.entries[entryID]
	if !ok || a.PatientID != patientID {
		return nil, errs.NotFound("allergy entry")
	}
	return a, nil
}

func (m *mockAllergyRepo) Update(_ context.Context, a *AllergyEntry) error {
	stored, ok := m.entries[a.ID]
	if !ok || stored.PatientID != a.PatientID {
		return errs.NotFound("allergy entry")
	}
	cp := *a
	m.entries[a.ID] = &cp
	return nil
}

func (m *mockAllergyRepo) Remove(_ context.Context, patientID, entryID uuid.UUID) error {
	a, ok := m.entries[entryID]
	if !ok || a.PatientID != patientID {
		return errs.NotFound("allergy entry")
	}
	delete(m.entries, entryID)
	return nil
}

func (m *mockAllergyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*AllergyEntry, error) {
	var result []*AllergyEntry
	for _, a := range m.entries {
		if a.PatientID == patientID {
			result = append(result, a)
		}
	}
	return result, nil
}

type mockMedicationRepo struct {
	entries map[uuid.UUID]*MedicationEntry
}

func newMockMedicationRepo() *mockMedicationRepo {
	return &mockMedicationRepo{entries: make(map[uuid.UUID]*MedicationEntry)}
}

func (m *mockMedicationRepo) Add(_ context.Context, e *MedicationEntry) error {
	e.ID = uuid.New()
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockMedicationRepo) Get(_ context.Context, patientID, entryID uuid.UUID) (*MedicationEntry, error) {
	e, ok := m.entries[entryID]
	if !ok || e.PatientID != patientID {
		return nil, errs.NotFound("medication entry")
	}
	return e, nil
}

func (m *mockMedicationRepo) Update(_ context.Context, e *MedicationEntry) error {
	stored, ok := m.entries[e.ID]
	if !ok || stored.PatientID != e.PatientID {
		return errs.NotFound("medication entry")
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockMedicationRepo) Remove(_ context.Context, patientID, entryID uuid.UUID) error {
	e, ok := m.entries[entryID]
	if !ok || e.PatientID != patientID {
		return errs.NotFound("medication entry")
	}
	delete(m.entries, entryID)
	return nil
}

func (m *mockMedicationRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*MedicationEntry, error) {
	var result []*MedicationEntry
	for _, e := range m.entries {
		if e.PatientID == patientID {
			result = append(result, e)
		}
	}
	return result, nil
}

func newTestService() *Service {
	return NewService(newMockRepo(), newMockAllergyRepo(), newMockMedicationRepo(),
		&mockVitalsRepo{}, newMockAlloc(), passTx{})
}

func decPtr(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func validPatient() *Patient {
	return &Patient{
		FirstName: "Maria",
		LastName:  "Gonzalez",
		BirthDate: time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC),
	}
}

// -- Tests --

func TestCreate_AllocatesIdentifierAndDerivesBMI(t *testing.T) {
	svc := newTestService()

	p := validPatient()
	vitals := &VitalsSnapshot{HeightCm: decPtr("170"), WeightKg: decPtr("70")}
	if err := svc.Create(context.Background(), p, vitals); err != nil {
		t.Fatal(err)
	}

	wantPrefix := "P" + time.Now().UTC().Format("2006")
	if p.PatientID != wantPrefix+"0001" {
		t.Errorf("patient id = %s, want %s0001", p.PatientID, wantPrefix)
	}
	if p.Status != StatusActive {
		t.Errorf("status = %s, want active", p.Status)
	}
	if p.BMI == nil || p.BMI.String() != "24.2" {
		t.Errorf("BMI = %v, want 24.2", p.BMI)
	}
	if p.Age <= 0 {
		t.Errorf("age not derived: %d", p.Age)
	}
}

func TestCreate_SequentialIdentifiers(t *testing.T) {
	svc := newTestService()

	first := validPatient()
	second := validPatient()
	if err := svc.Create(context.Background(), first, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.Create(context.Background(), second, nil); err != nil {
		t.Fatal(err)
	}
	if first.PatientID == second.PatientID {
		t.Errorf("duplicate identifiers: %s", first.PatientID)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService()

	err := svc.Create(context.Background(), &Patient{}, nil)
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	e, _ := errs.AsError(err)
	for _, field := range []string{"first_name", "last_name", "birth_date"} {
		if _, ok := e.Fields[field]; !ok {
			t.Errorf("missing field detail for %s", field)
		}
	}
}

func TestCreate_RejectsFutureBirthDate(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	p.BirthDate = time.Now().AddDate(1, 0, 0)
	if err := svc.Create(context.Background(), p, nil); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdate_IdentifierImmutable(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	if err := svc.Create(context.Background(), p, nil); err != nil {
		t.Fatal(err)
	}
	assigned := p.PatientID

	p.PatientID = "P20990042"
	p.FirstName = "Mariana"
	if err := svc.Update(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.PatientID != assigned {
		t.Errorf("identifier changed to %s, want %s", p.PatientID, assigned)
	}
}

func TestUpdate_VersionConflict(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	if err := svc.Create(context.Background(), p, nil); err != nil {
		t.Fatal(err)
	}

	stale := *p
	if err := svc.Update(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	err := svc.Update(context.Background(), &stale)
	if !errs.Is(err, errs.KindConflict) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
}

func TestDeactivate_SoftDeletes(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	if err := svc.Create(context.Background(), p, nil); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Deactivate(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusInactive {
		t.Errorf("status = %s, want inactive", got.Status)
	}

	// Still readable after deactivation.
	if _, err := svc.Get(context.Background(), p.ID); err != nil {
		t.Errorf("deactivated patient should remain readable: %v", err)
	}
}

func TestGet_BMIFromLatestVitals(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	vitals := &VitalsSnapshot{
		HeightCm:   decPtr("170"),
		WeightKg:   decPtr("70"),
		RecordedAt: time.Now().Add(-time.Hour),
	}
	if err := svc.Create(context.Background(), p, vitals); err != nil {
		t.Fatal(err)
	}

	later := &VitalsSnapshot{
		PatientID:  p.ID,
		HeightCm:   decPtr("170"),
		WeightKg:   decPtr("80"),
		RecordedAt: time.Now(),
	}
	if err := svc.AddVitals(context.Background(), later); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BMI == nil || got.BMI.String() != "27.7" {
		t.Errorf("BMI = %v, want 27.7 from latest snapshot", got.BMI)
	}
}

func TestGet_BMICarriesHeightForward(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	initial := &VitalsSnapshot{
		HeightCm:   decPtr("170"),
		WeightKg:   decPtr("70"),
		RecordedAt: time.Now().Add(-time.Hour),
	}
	if err := svc.Create(context.Background(), p, initial); err != nil {
		t.Fatal(err)
	}

	// A follow-up visit records weight only; height stays on file.
	weightOnly := &VitalsSnapshot{
		PatientID:  p.ID,
		WeightKg:   decPtr("81"),
		RecordedAt: time.Now(),
	}
	if err := svc.AddVitals(context.Background(), weightOnly); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BMI == nil || got.BMI.String() != "28.0" {
		t.Errorf("BMI = %v, want 28.0 from earlier height and latest weight", got.BMI)
	}
}

func TestAddVitals_RequiresAMeasurement(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	if err := svc.Create(context.Background(), p, nil); err != nil {
		t.Fatal(err)
	}

	err := svc.AddVitals(context.Background(), &VitalsSnapshot{PatientID: p.ID})
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddAllergy_PatientMustExist(t *testing.T) {
	svc := newTestService()
	err := svc.AddAllergy(context.Background(), &AllergyEntry{
		PatientID: uuid.New(),
		Substance: "penicillin",
	})
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAllergy_AddUpdateRemove(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	if err := svc.Create(context.Background(), p, nil); err != nil {
		t.Fatal(err)
	}

	a := &AllergyEntry{PatientID: p.ID, Substance: "penicillin"}
	if err := svc.AddAllergy(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	severity := "severe"
	a.Severity = &severity
	if err := svc.UpdateAllergy(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	items, err := svc.ListAllergies(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Severity == nil || *items[0].Severity != "severe" {
		t.Fatalf("unexpected entries: %+v", items)
	}

	if err := svc.RemoveAllergy(context.Background(), p.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	items, _ = svc.ListAllergies(context.Background(), p.ID)
	if len(items) != 0 {
		t.Errorf("expected empty list after removal, got %d", len(items))
	}
}

func TestMedication_AddAndList(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	if err := svc.Create(context.Background(), p, nil); err != nil {
		t.Fatal(err)
	}

	m := &MedicationEntry{PatientID: p.ID, Name: "metformin"}
	if err := svc.AddMedication(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddMedication(context.Background(), &MedicationEntry{PatientID: p.ID}); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for missing name, got %v", err)
	}

	items, err := svc.ListMedications(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 medication, got %d", len(items))
	}
}
