// Package seed populates the domain stores with reproducible demo data so the
// dashboards have something to show on a fresh start.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr-dashboard/internal/domain/bed"
	"github.com/ehr/emr-dashboard/internal/domain/clinical"
	"github.com/ehr/emr-dashboard/internal/domain/pharmacy"
	"github.com/ehr/emr-dashboard/internal/domain/queue"
	"github.com/ehr/emr-dashboard/internal/platform/auth"
)

// SystemUser is the actor recorded on seeded entries.
var SystemUser = auth.User{ID: "system", Name: "System Seeder", Role: auth.RoleAdmin}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config controls the volume of generated demo data.
type Config struct {
	BedsPerWard       int     `json:"beds_per_ward"`
	OccupancyRate     float64 `json:"occupancy_rate"`
	PrescriptionCount int     `json:"prescription_count"`
	RequestCount      int     `json:"request_count"`
	LabTestCount      int     `json:"lab_test_count"`
	Seed              int64   `json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		BedsPerWard:       6,
		OccupancyRate:     0.4,
		PrescriptionCount: 8,
		RequestCount:      6,
		LabTestCount:      6,
	}
}

// Result summarizes a seed run.
type Result struct {
	Wards         int  `json:"wards"`
	Beds          int  `json:"beds"`
	Occupied      int  `json:"occupied"`
	Prescriptions int  `json:"prescriptions"`
	Requests      int  `json:"requests"`
	LabTests      int  `json:"lab_tests"`
	Skipped       bool `json:"skipped"`
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

type wardDef struct {
	name       string
	prefix     string
	floor      int
	department string
	category   bed.Category
	rate       float64
}

var wards = []wardDef{
	{"General Ward", "GW", 1, "Internal Medicine", bed.CategoryGeneral, 5000},
	{"Private Wing", "PW", 2, "Internal Medicine", bed.CategoryPrivate, 15000},
	{"Intensive Care Unit", "ICU", 3, "Critical Care", bed.CategoryICU, 50000},
	{"Neonatal ICU", "NICU", 3, "Paediatrics", bed.CategoryNICU, 45000},
	{"Isolation Unit", "ISO", 1, "Infectious Diseases", bed.CategoryIsolation, 20000},
}

var patientNames = []string{
	"Adaeze Okafor", "Babatunde Adeyemi", "Chioma Nwosu", "Damilola Ogunleye",
	"Emeka Eze", "Funmilayo Bakare", "Gbenga Olatunji", "Halima Bello",
	"Ifeanyi Obi", "Jumoke Ajayi", "Kelechi Uche", "Lola Adebayo",
	"Musa Ibrahim", "Ngozi Chukwu", "Oluwaseun Akande", "Patience Etim",
}

type drugDef struct {
	name   string
	dosage string
	price  float64
}

var formulary = []drugDef{
	{"Amoxicillin", "500mg", 150},
	{"Paracetamol", "1g", 50},
	{"Artemether/Lumefantrine", "80/480mg", 1200},
	{"Metformin", "500mg", 80},
	{"Amlodipine", "10mg", 120},
	{"Ceftriaxone", "1g IV", 2500},
	{"Omeprazole", "20mg", 100},
}

var labTests = []struct{ name, kind string }{
	{"Full Blood Count", "Haematology"},
	{"Malaria Parasite", "Parasitology"},
	{"Liver Function Test", "Chemistry"},
	{"Urinalysis", "Microbiology"},
	{"Fasting Blood Sugar", "Chemistry"},
}

var procedures = []string{"Appendectomy", "Caesarean Section", "Herniorrhaphy", "Laparotomy", "Open Reduction Internal Fixation"}

var diagnoses = []string{"Severe Malaria", "Community-acquired Pneumonia", "Diabetic Ketoacidosis", "Hypertensive Urgency", "Sickle Cell Crisis"}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Stores are the targets of a seed run. Nil stores are skipped.
type Stores struct {
	Beds     *bed.Store
	Clinical *clinical.Store
	Pharmacy *pharmacy.Store
	Queue    *queue.Store
}

type Seeder struct {
	stores Stores
	mu     sync.Mutex
}

func NewSeeder(stores Stores) *Seeder {
	return &Seeder{stores: stores}
}

type generator struct {
	rng     *rand.Rand
	counter int
}

func (g *generator) patient() (string, string) {
	g.counter++
	return fmt.Sprintf("PAT-%04d", g.counter), patientNames[g.rng.Intn(len(patientNames))]
}

// Seed writes demo data through the stores' own operations, so every
// invariant and side effect applies. It does nothing if wards already exist.
func (s *Seeder) Seed(ctx context.Context, cfg Config) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stores.Beds != nil && len(s.stores.Beds.Wards()) > 0 {
		return Result{Skipped: true}, nil
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.BedsPerWard <= 0 {
		cfg.BedsPerWard = DefaultConfig().BedsPerWard
	}
	g := &generator{rng: rand.New(rand.NewSource(cfg.Seed))}
	ctx = auth.WithUser(ctx, SystemUser)

	var res Result
	var admitted []string
	if s.stores.Beds != nil {
		if err := s.seedBeds(ctx, g, cfg, &res, &admitted); err != nil {
			return res, err
		}
	}
	if s.stores.Pharmacy != nil {
		if err := s.seedPrescriptions(ctx, g, cfg, &res); err != nil {
			return res, err
		}
	}
	if s.stores.Queue != nil {
		if err := s.seedRequests(ctx, g, cfg, &res); err != nil {
			return res, err
		}
	}
	if s.stores.Clinical != nil {
		if err := s.seedClinical(ctx, g, cfg, admitted, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Seeder) seedBeds(ctx context.Context, g *generator, cfg Config, res *Result, admitted *[]string) error {
	for _, w := range wards {
		if _, err := s.stores.Beds.AddWard(ctx, bed.Ward{Name: w.name, Floor: w.floor, Department: w.department, Category: w.category}); err != nil {
			return fmt.Errorf("seed ward %s: %w", w.name, err)
		}
		res.Wards++
		for i := 1; i <= cfg.BedsPerWard; i++ {
			b, err := s.stores.Beds.AddBed(ctx, bed.Bed{
				BedNumber: fmt.Sprintf("%s-%02d", w.prefix, i),
				Ward:      w.name,
				Floor:     w.floor,
				Category:  w.category,
				Rate:      w.rate,
			})
			if err != nil {
				return fmt.Errorf("seed bed: %w", err)
			}
			res.Beds++
			if g.rng.Float64() >= cfg.OccupancyRate {
				continue
			}
			id, name := g.patient()
			if _, err := s.stores.Beds.AssignBed(ctx, b.ID, id, name); err != nil {
				return fmt.Errorf("seed assignment %s: %w", b.BedNumber, err)
			}
			*admitted = append(*admitted, id)
			res.Occupied++
		}
	}
	return nil
}

func (s *Seeder) seedPrescriptions(ctx context.Context, g *generator, cfg Config, res *Result) error {
	for i := 0; i < cfg.PrescriptionCount; i++ {
		id, name := g.patient()
		lines := make([]pharmacy.PrescribedDrug, 1+g.rng.Intn(3))
		for j := range lines {
			d := formulary[g.rng.Intn(len(formulary))]
			price := d.price
			lines[j] = pharmacy.PrescribedDrug{
				Name: d.name, Dosage: d.dosage, Quantity: 1 + g.rng.Intn(20),
				Duration: fmt.Sprintf("%d days", 3+g.rng.Intn(5)), Price: &price,
			}
		}
		p, err := s.stores.Pharmacy.CreatePrescription(ctx, pharmacy.Prescription{
			FileNumber: fmt.Sprintf("FN-%05d", 10000+i), PatientID: id, PatientName: name,
			PatientType: "OPD", PrescribedDrugs: lines, PrescribedBy: "Dr. Demo",
		})
		if err != nil {
			return fmt.Errorf("seed prescription: %w", err)
		}
		res.Prescriptions++
		// Roughly half wait at the cashier.
		if g.rng.Intn(2) == 0 {
			if _, err := s.stores.Pharmacy.SendToCashierQueue(ctx, p.ID); err != nil {
				return fmt.Errorf("seed cashier queue: %w", err)
			}
		}
	}
	return nil
}

func (s *Seeder) seedRequests(ctx context.Context, g *generator, cfg Config, res *Result) error {
	priorities := []queue.Priority{queue.PriorityLow, queue.PriorityMedium, queue.PriorityHigh, queue.PriorityCritical}
	for i := 0; i < cfg.RequestCount; i++ {
		id, name := g.patient()
		var d queue.Details
		if g.rng.Intn(2) == 0 {
			d = queue.AdmissionDetails{Diagnosis: diagnoses[g.rng.Intn(len(diagnoses))], Ward: wards[0].name}
		} else {
			d = queue.SurgeryDetails{Procedure: procedures[g.rng.Intn(len(procedures))], Theatre: fmt.Sprintf("OT-%d", 1+g.rng.Intn(3))}
		}
		_, err := s.stores.Queue.CreateRequest(ctx, queue.Request{
			PatientID: id, PatientName: name, PatientType: queue.PatientIPD,
			Priority: priorities[g.rng.Intn(len(priorities))], Details: d,
		})
		if err != nil {
			return fmt.Errorf("seed request: %w", err)
		}
		res.Requests++
	}
	return nil
}

func (s *Seeder) seedClinical(ctx context.Context, g *generator, cfg Config, admitted []string, res *Result) error {
	for _, id := range admitted {
		_, err := s.stores.Clinical.RecordVitals(ctx, clinical.VitalSigns{
			PatientID:        id,
			BloodPressure:    fmt.Sprintf("%d/%d", 100+g.rng.Intn(50), 60+g.rng.Intn(30)),
			Temperature:      36 + float64(g.rng.Intn(30))/10,
			Pulse:            60 + g.rng.Intn(50),
			RespiratoryRate:  12 + g.rng.Intn(10),
			OxygenSaturation: float64(90 + g.rng.Intn(10)),
			Weight:           float64(50 + g.rng.Intn(50)),
			Height:           float64(150 + g.rng.Intn(40)),
		})
		if err != nil {
			return fmt.Errorf("seed vitals: %w", err)
		}
	}
	for i := 0; i < cfg.LabTestCount; i++ {
		var id string
		if len(admitted) > 0 {
			id = admitted[g.rng.Intn(len(admitted))]
		} else {
			id, _ = g.patient()
		}
		t := labTests[g.rng.Intn(len(labTests))]
		if _, err := s.stores.Clinical.RequestLabTest(ctx, clinical.LabResult{PatientID: id, TestName: t.name, TestType: t.kind}); err != nil {
			return fmt.Errorf("seed lab test: %w", err)
		}
		res.LabTests++
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

type Handler struct {
	seeder *Seeder
}

func NewHandler(seeder *Seeder) *Handler {
	return &Handler{seeder: seeder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/admin/seed", h.handleSeed, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) handleSeed(c echo.Context) error {
	cfg := DefaultConfig()
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.seeder.Seed(c.Request().Context(), cfg)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
