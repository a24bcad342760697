package hospitaldb

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// DefaultSeed makes the generated dataset reproducible.
const DefaultSeed = 7777

const (
	hospitalCount = 50
	puneLat       = 18.5204
	puneLon       = 73.8567
	timeLayout    = "2006-01-02 15:04:05"
)

var baseNames = []string{
	"Ruby Hill Hospital", "Sahyadri General Hospital", "Kothrud District Hospital", "Pune Central Medical Centre",
	"Deccan Health Institute", "Hadapsar Care Hospital", "Aundh Community Hospital", "Viman Nagar Health Centre",
	"Shivaji Nagar Hospital", "Lokmanya Medical Hospital", "Dhayari Clinic", "Katraj Care Centre",
	"Bhosari Health Campus", "Pune East Medical", "Pune West General", "PMC Community Hospital",
	"Bopodi Health Centre", "Baner Wellness", "Shivaji Hills Clinic", "Pune NMC Hospital",
	"Ambegaon Specialty Hospital", "Pune Metro Health", "FC Road Medical", "Karve Road Hospital",
	"Pashan General Hospital", "Yerawada Care", "Pune City Hospital", "Sinhagad Road Medical",
	"Kondhwa Community Hospital", "Wagholi Health Centre", "Narhe Hospital", "Pune North Hospital",
	"Pune South General", "Sadashiv Peth Hospital", "Pune Trauma Centre", "PMC Specialty", "Bhandarkar Memorial",
	"Sinhgad Road Clinic", "Mundhwa Medical", "Kalewadi Hospital", "Akurdi Health", "Dattanagar Hospital",
	"Koregaon Park Medical", "Kharadi Wellness", "Mahalunge Hospital", "Dapodi Health Centre", "Pune Central ER",
	"Lohegaon Hospital", "Gahunje Clinic", "Pune River Hospital", "Mhatre Hospital",
}

// Hospital is a row of the hospitals table.
type Hospital struct {
	ID               string
	Name             string
	Region           string
	Latitude         float64
	Longitude        float64
	OwnershipType    string
	MaxCapacityBeds  int
	WardCapacityBeds int
	Size             string
}

// ResourceSnapshot is a row of hospital_resource_timeseries.
type ResourceSnapshot struct {
	Timestamp                string
	HospitalID               string
	OccupiedBeds             int
	TotalBeds                int
	EDTotalBeds              int
	EDOccupiedBeds           int
	WardCapacityBeds         int
	TotalICUBeds             int
	ICUOccupiedBeds          int
	TotalVentilators         int
	InUseVentilators         int
	OxygenUnitsLiters        float64
	AvailableOxygenLiters    float64
	EstDailyOxygenLiters     float64
	TBMedStockTablets        int
	DiagKitsAvailable        int
	AvailableStaffCount      int
	OnShiftDoctors           int
	RequiredDoctors          int
	OnShiftNurses            int
	AmbulanceArrivals24h     int
	CriticalCasesED          int
	AvgDailyAdmissions7d     float64
	AvgEDTurnaroundMinutes1h float64
	AvgEDTurnaroundMinutes6h float64
}

// FinanceMonth is a row of hospital_finance_monthly.
type FinanceMonth struct {
	HospitalID             string
	Year                   int
	Month                  int
	Period                 string
	TotalExpenditure       float64
	OperationalExpenditure float64
	StaffCost              float64
	SupplyCost             float64
	MaintenanceCost        float64
	TransportCost          float64
	CapitalExpenditure     float64
	Revenue                float64
	BudgetAllocated        float64
	BudgetRemaining        float64
	DataConfidence         string
	LastUpdated            string
}

// Supplier is a row of suppliers.
type Supplier struct {
	VendorID         string
	VendorName       string
	VendorType       string
	Contact          string
	LeadTimeDays     int
	PaymentTermsDays int
}

// InventoryItem is a row of inventory_items.
type InventoryItem struct {
	ItemID       string
	ItemName     string
	Unit         string
	ReorderLevel float64
	ReorderQty   float64
	UnitCost     float64
	Asset        bool
}

// Dataset is a complete generated hospital database.
type Dataset struct {
	Hospitals []Hospital
	Resources []ResourceSnapshot
	Finance   []FinanceMonth
	Suppliers []Supplier
	Inventory []InventoryItem
}

// Generate builds the synthetic Pune dataset. The same seed always yields
// the same rows apart from the timestamps, which are taken from now.
func Generate(seed int64, now time.Time) *Dataset {
	g := &generator{rng: rand.New(rand.NewSource(seed))}
	stamp := now.Format(timeLayout)

	ds := &Dataset{}
	for i := range hospitalCount {
		ds.Hospitals = append(ds.Hospitals, g.hospital(i))
	}
	for _, h := range ds.Hospitals {
		ds.Resources = append(ds.Resources, g.snapshot(h, stamp))
	}
	for _, h := range ds.Hospitals {
		ds.Finance = append(ds.Finance, g.finance(h, stamp))
	}
	ds.Suppliers = []Supplier{
		{"100000001", "OxySupply Pvt Ltd", "distributor", `{"phone":"+91-20-55550001","email":"sales@oxysupply.in"}`, 2, 30},
		{"100000002", "MedEquip Traders", "manufacturer", `{"phone":"+91-20-55550002","email":"contact@medequip.in"}`, 6, 45},
		{"100000003", "Rapid Diagnostics Co", "labkits", `{"phone":"+91-20-55550004","email":"sales@rapiddiag.in"}`, 3, 30},
	}
	ds.Inventory = []InventoryItem{
		{"OXY_LITER", "Oxygen (liters)", "liters", 5000, 10000, 0.75, false},
		{"VENT_UNIT", "Ventilator Unit", "unit", 1, 1, 250000.0, true},
	}
	return ds
}

type generator struct {
	rng *rand.Rand
}

func (g *generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *generator) normal(mean, stddev float64) float64 {
	return mean + g.rng.NormFloat64()*stddev
}

// intn returns an int in [lo, hi).
func (g *generator) intn(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo)
}

// choice picks options[i] with probability weights[i].
func (g *generator) choice(options []string, weights []float64) string {
	r := g.rng.Float64()
	for i, w := range weights {
		if r < w {
			return options[i]
		}
		r -= w
	}
	return options[len(options)-1]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (g *generator) hospital(i int) Hospital {
	size := g.choice([]string{"small", "medium", "large"}, []float64{0.45, 0.40, 0.15})
	ownership := g.choice([]string{"govt", "private", "trust"}, []float64{0.55, 0.40, 0.05})

	var maxBeds int
	switch size {
	case "small":
		maxBeds = int(clamp(g.normal(60, 10), 25, 120))
	case "medium":
		maxBeds = int(clamp(g.normal(180, 28), 80, 400))
	default:
		maxBeds = int(clamp(g.normal(420, 60), 200, 800))
	}

	name := fmt.Sprintf("Pune Health Centre %d", i+1)
	if i < len(baseNames) {
		name = baseNames[i]
	}

	return Hospital{
		ID:               fmt.Sprintf("PUNE_%03d", i+1),
		Name:             name + ", Pune",
		Region:           "Pune",
		Latitude:         round(puneLat+g.normal(0, 0.03), 6),
		Longitude:        round(puneLon+g.normal(0, 0.03), 6),
		OwnershipType:    ownership,
		MaxCapacityBeds:  maxBeds,
		WardCapacityBeds: int(float64(maxBeds) * 0.68),
		Size:             size,
	}
}

func (g *generator) snapshot(h Hospital, stamp string) ResourceSnapshot {
	beds := float64(h.MaxCapacityBeds)
	edBeds := max(6, int(beds*g.uniform(0.085, 0.14)))
	icuBeds := max(3, int(beds*g.uniform(0.035, 0.07)))
	baseUtil := map[string]float64{"small": 0.60, "medium": 0.74, "large": 0.86}[h.Size]

	occ := int(clamp(math.Round(beds*g.normal(baseUtil, 0.07)), 0, beds))
	edOcc := int(clamp(math.Round(float64(edBeds)*g.normal(0.79, 0.13)), 0, float64(edBeds)))
	icuOcc := int(clamp(math.Round(float64(icuBeds)*g.normal(0.73, 0.16)), 0, float64(icuBeds)))
	vents := max(1, int(clamp(math.Round(float64(icuBeds)*g.uniform(0.7, 1.5)), 1, 200)))
	ventsInUse := int(clamp(math.Round(float64(vents)*g.normal(0.69, 0.15)), 0, float64(vents)))
	dailyOxygen := math.Max(150, float64(icuOcc)*g.uniform(380, 520)+float64(occ-icuOcc)*g.uniform(4, 12))

	return ResourceSnapshot{
		Timestamp:                stamp,
		HospitalID:               h.ID,
		OccupiedBeds:             occ,
		TotalBeds:                h.MaxCapacityBeds,
		EDTotalBeds:              edBeds,
		EDOccupiedBeds:           edOcc,
		WardCapacityBeds:         h.WardCapacityBeds,
		TotalICUBeds:             icuBeds,
		ICUOccupiedBeds:          icuOcc,
		TotalVentilators:         vents,
		InUseVentilators:         ventsInUse,
		AvailableOxygenLiters:    round(dailyOxygen*g.uniform(1.5, 6.0), 1),
		OxygenUnitsLiters:        round(dailyOxygen*3, 1),
		EstDailyOxygenLiters:     dailyOxygen,
		TBMedStockTablets:        g.intn(2000, 4000),
		DiagKitsAvailable:        g.intn(5, 50),
		AvailableStaffCount:      g.intn(50, 400),
		OnShiftDoctors:           g.intn(10, 60),
		RequiredDoctors:          g.intn(15, 80),
		OnShiftNurses:            g.intn(20, 120),
		AmbulanceArrivals24h:     g.intn(0, 200),
		CriticalCasesED:          g.intn(0, 50),
		AvgDailyAdmissions7d:     g.uniform(10, 200),
		AvgEDTurnaroundMinutes1h: g.uniform(15, 45),
		AvgEDTurnaroundMinutes6h: g.uniform(30, 60),
	}
}

func (g *generator) finance(h Hospital, stamp string) FinanceMonth {
	total := round(g.uniform(1e6, 9e6), 2)
	f := FinanceMonth{
		HospitalID:       h.ID,
		Year:             2025,
		Month:            10,
		Period:           "2025-10-01",
		TotalExpenditure: total,
		StaffCost:        round(total*g.uniform(0.5, 0.7), 2),
		SupplyCost:       round(total*g.uniform(0.1, 0.2), 2),
		MaintenanceCost:  round(total*g.uniform(0.02, 0.06), 2),
		TransportCost:    round(total*g.uniform(0.01, 0.03), 2),
		BudgetAllocated:  round(total*1.2, 2),
		BudgetRemaining:  round(total*0.2, 2),
		DataConfidence:   "reported",
		LastUpdated:      stamp,
	}
	capex := round(total*g.uniform(0.05, 0.1), 2)
	f.CapitalExpenditure = capex
	f.OperationalExpenditure = round(total-capex, 2)
	f.Revenue = round(total*g.uniform(0.6, 1.2), 2)
	return f
}

const createTables = `
CREATE TABLE hospitals (
  hospital_id VARCHAR(50) PRIMARY KEY,
  hospital_name VARCHAR(100),
  region VARCHAR(50),
  latitude DECIMAL(9,6),
  longitude DECIMAL(9,6),
  ownership_type VARCHAR(20),
  max_capacity_beds INT,
  ward_capacity_beds INT
);
CREATE TABLE hospital_resource_timeseries (
  timestamp DATETIME,
  hospital_id VARCHAR(50),
  occupied_beds INT,
  total_beds INT,
  ed_total_beds INT,
  ed_occupied_beds INT,
  ward_capacity_beds INT,
  total_icu_beds INT,
  icu_occupied_beds INT,
  total_ventilators INT,
  in_use_ventilators INT,
  oxygen_units_liters FLOAT,
  available_oxygen_liters FLOAT,
  estimated_daily_consumption_oxygen_liters FLOAT,
  tb_med_stock_tablets INT,
  diag_kits_available INT,
  available_staff_count INT,
  on_shift_doctors INT,
  required_doctors INT,
  on_shift_nurses INT,
  ambulance_arrivals_24h INT,
  critical_cases_ed INT,
  avg_daily_admissions_7d FLOAT,
  avg_ed_tat_minutes_1h FLOAT,
  avg_ed_tat_minutes_6h FLOAT,
  FOREIGN KEY (hospital_id) REFERENCES hospitals(hospital_id)
);
CREATE TABLE hospital_finance_monthly (
  hospital_id VARCHAR(50),
  year INT,
  month INT,
  period DATE,
  total_expenditure DECIMAL(15,2),
  operational_expenditure DECIMAL(15,2),
  staff_cost DECIMAL(15,2),
  supply_cost DECIMAL(15,2),
  maintenance_cost DECIMAL(15,2),
  transport_cost DECIMAL(15,2),
  capital_expenditure DECIMAL(15,2),
  revenue DECIMAL(15,2),
  budget_allocated DECIMAL(15,2),
  budget_remaining DECIMAL(15,2),
  data_confidence VARCHAR(20),
  last_updated DATETIME,
  PRIMARY KEY (hospital_id, period)
);
CREATE TABLE suppliers (
  vendor_id VARCHAR(20) PRIMARY KEY,
  vendor_name VARCHAR(100),
  vendor_type VARCHAR(50),
  contact JSON,
  lead_time_days INT,
  payment_terms_days INT
);
CREATE TABLE inventory_items (
  item_id VARCHAR(50) PRIMARY KEY,
  item_name VARCHAR(100),
  unit VARCHAR(20),
  reorder_level DECIMAL(10,2),
  reorder_qty DECIMAL(10,2),
  unit_cost DECIMAL(10,2),
  asset_flag BOOLEAN
);`

const dropTables = `
DROP TABLE IF EXISTS hospital_resource_timeseries;
DROP TABLE IF EXISTS hospital_finance_monthly;
DROP TABLE IF EXISTS inventory_items;
DROP TABLE IF EXISTS suppliers;
DROP TABLE IF EXISTS hospitals;`

// Seed replaces the contents of the database with ds in one transaction.
func (d *DB) Seed(ctx context.Context, ds *Dataset) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, dropTables); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if _, err = tx.ExecContext(ctx, createTables); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	for _, h := range ds.Hospitals {
		if _, err = tx.ExecContext(ctx, `INSERT INTO hospitals VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.Name, h.Region, h.Latitude, h.Longitude, h.OwnershipType, h.MaxCapacityBeds, h.WardCapacityBeds); err != nil {
			return fmt.Errorf("insert hospital %s: %w", h.ID, err)
		}
	}
	for _, r := range ds.Resources {
		if _, err = tx.ExecContext(ctx, `INSERT INTO hospital_resource_timeseries VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Timestamp, r.HospitalID, r.OccupiedBeds, r.TotalBeds, r.EDTotalBeds, r.EDOccupiedBeds,
			r.WardCapacityBeds, r.TotalICUBeds, r.ICUOccupiedBeds, r.TotalVentilators, r.InUseVentilators,
			r.OxygenUnitsLiters, r.AvailableOxygenLiters, r.EstDailyOxygenLiters, r.TBMedStockTablets,
			r.DiagKitsAvailable, r.AvailableStaffCount, r.OnShiftDoctors, r.RequiredDoctors, r.OnShiftNurses,
			r.AmbulanceArrivals24h, r.CriticalCasesED, r.AvgDailyAdmissions7d,
			r.AvgEDTurnaroundMinutes1h, r.AvgEDTurnaroundMinutes6h); err != nil {
			return fmt.Errorf("insert resource snapshot %s: %w", r.HospitalID, err)
		}
	}
	for _, f := range ds.Finance {
		if _, err = tx.ExecContext(ctx, `INSERT INTO hospital_finance_monthly VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.HospitalID, f.Year, f.Month, f.Period, f.TotalExpenditure, f.OperationalExpenditure,
			f.StaffCost, f.SupplyCost, f.MaintenanceCost, f.TransportCost, f.CapitalExpenditure,
			f.Revenue, f.BudgetAllocated, f.BudgetRemaining, f.DataConfidence, f.LastUpdated); err != nil {
			return fmt.Errorf("insert finance %s: %w", f.HospitalID, err)
		}
	}
	for _, s := range ds.Suppliers {
		if _, err = tx.ExecContext(ctx, `INSERT INTO suppliers VALUES (?, ?, ?, ?, ?, ?)`,
			s.VendorID, s.VendorName, s.VendorType, s.Contact, s.LeadTimeDays, s.PaymentTermsDays); err != nil {
			return fmt.Errorf("insert supplier %s: %w", s.VendorID, err)
		}
	}
	for _, it := range ds.Inventory {
		if _, err = tx.ExecContext(ctx, `INSERT INTO inventory_items VALUES (?, ?, ?, ?, ?, ?, ?)`,
			it.ItemID, it.ItemName, it.Unit, it.ReorderLevel, it.ReorderQty, it.UnitCost, it.Asset); err != nil {
			return fmt.Errorf("insert inventory item %s: %w", it.ItemID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

// IsSeeded reports whether the hospitals table exists and has rows.
func (d *DB) IsSeeded(ctx context.Context) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'hospitals'`).Scan(&n)
	if err != nil || n == 0 {
		return false, err
	}
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hospitals`).Scan(&n); err != nil {
		return false, fmt.Errorf("count hospitals: %w", err)
	}
	return n > 0, nil
}

// EnsureSeeded seeds the database with the default dataset unless it already
// holds data. It reports whether seeding happened.
func (d *DB) EnsureSeeded(ctx context.Context) (bool, error) {
	seeded, err := d.IsSeeded(ctx)
	if err != nil {
		return false, err
	}
	if seeded {
		return false, nil
	}
	if err := d.Seed(ctx, Generate(DefaultSeed, time.Now())); err != nil {
		return false, err
	}
	return true, nil
}
