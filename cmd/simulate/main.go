package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsched/appointment-engine/internal/config"
	"github.com/clinsched/appointment-engine/internal/db"
)

// The simulator hammers the booking API with concurrent create, confirm,
// cancel and read traffic to observe conflict behavior under load. Slots
// are picked from a bounded grid of future half-days so a share of the
// bookings intentionally collide.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	PostgresDSN  string
}

type DataPool struct {
	TenantID    uuid.UUID
	AdminID     uuid.UUID
	Patients    []uuid.UUID
	Specialists []uuid.UUID
	Specialties []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rand.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal("SIM_WORKERS and SIM_DURATION must be > 0")
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f confirm=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.ConfirmRatio, cfg.CancelRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: tenant=%s patients=%d specialists=%d specialties=%d",
		dataPool.TenantID, len(dataPool.Patients), len(dataPool.Specialists), len(dataPool.Specialties))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	err := pool.QueryRow(ctx, `
		SELECT id, admin_user_id FROM tenants ORDER BY created_at LIMIT 1
	`).Scan(&dataPool.TenantID, &dataPool.AdminID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}

	load := func(query string, limit int, dst *[]uuid.UUID) error {
		rows, err := pool.Query(ctx, query, dataPool.TenantID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			*dst = append(*dst, id)
		}
		return rows.Err()
	}

	if err := load(`SELECT id FROM patients WHERE tenant_id = $1 LIMIT $2`, cfg.PatientLimit, &dataPool.Patients); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if err := load(`SELECT id FROM specialists WHERE tenant_id = $1 LIMIT $2`, 1000, &dataPool.Specialists); err != nil {
		return nil, fmt.Errorf("load specialists: %w", err)
	}
	if err := load(`SELECT id FROM specialties WHERE tenant_id = $1 LIMIT $2`, 1000, &dataPool.Specialties); err != nil {
		return nil, fmt.Errorf("load specialties: %w", err)
	}

	if len(dataPool.Patients) == 0 || len(dataPool.Specialists) == 0 || len(dataPool.Specialties) == 0 {
		return nil, fmt.Errorf("data pool is empty, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	deadline := time.Now().Add(s.config.Duration)
	var wg sync.WaitGroup

	for w := 0; w < s.config.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))

			for time.Now().Before(deadline) {
				roll := rng.Float64()
				switch {
				case roll < s.config.BookingRatio:
					s.doBooking(rng)
				case roll < s.config.BookingRatio+s.config.ConfirmRatio:
					s.doConfirm(rng)
				case roll < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
					s.doCancel(rng)
				default:
					s.doRead(rng)
				}
			}
		}(w)
	}

	wg.Wait()
}

// doBooking books a slot on a bounded grid of future hours so concurrent
// workers regularly contend for the same specialist and start.
func (s *Simulator) doBooking(rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	specialist := s.pool.Specialists[rng.Intn(len(s.pool.Specialists))]
	specialty := s.pool.Specialties[rng.Intn(len(s.pool.Specialties))]

	start := time.Now().UTC().Truncate(time.Hour).Add(time.Duration(26+rng.Intn(72)) * time.Hour)

	body, _ := json.Marshal(map[string]any{
		"patient_id":    patient.String(),
		"specialist_id": specialist.String(),
		"specialty_id":  specialty.String(),
		"starts_at":     start.Format(time.RFC3339),
		"reason":        "load test booking",
	})

	status, resp, latency := s.post("/appointments", body)
	s.metrics.Booking.Record(latency, status)

	if status == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(resp, &created); err == nil && created.ID != uuid.Nil {
			s.pool.AddAppointment(created.ID)
		}
	}
}

func (s *Simulator) doConfirm(_ *rand.Rand) {
	id, ok := s.pool.RandomAppointment()
	if !ok {
		return
	}
	status, _, latency := s.post("/appointments/"+id.String()+"/confirm", nil)
	s.metrics.Confirm.Record(latency, status)
}

func (s *Simulator) doCancel(_ *rand.Rand) {
	id, ok := s.pool.RandomAppointment()
	if !ok {
		return
	}
	body, _ := json.Marshal(map[string]string{"reason": "load test cancellation"})
	status, _, latency := s.post("/appointments/"+id.String()+"/cancel", body)
	s.metrics.Cancel.Record(latency, status)
}

func (s *Simulator) doRead(_ *rand.Rand) {
	id, ok := s.pool.RandomAppointment()
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequest(http.MethodGet, s.config.APIBaseURL+"/appointments/"+id.String(), nil)
	s.addHeaders(req)
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Read.Record(latency, 0)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	s.metrics.Read.Record(latency, resp.StatusCode)
}

func (s *Simulator) post(path string, body []byte) (int, []byte, time.Duration) {
	start := time.Now()
	req, err := http.NewRequest(http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, time.Since(start)
	}
	req.Header.Set("Content-Type", "application/json")
	s.addHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, time.Since(start)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, time.Since(start)
}

func (s *Simulator) addHeaders(req *http.Request) {
	req.Header.Set("X-Tenant-ID", s.pool.TenantID.String())
	req.Header.Set("X-User-ID", s.pool.AdminID.String())
}

func (s *Simulator) PrintReport() {
	report := func(name string, om *OperationMetrics) {
		avg, p50, p95 := om.Stats()
		log.Printf("%-8s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
			name, atomic.LoadInt64(&om.Total), atomic.LoadInt64(&om.Success),
			atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error), avg, p50, p95)
	}

	log.Println("simulation report:")
	report("booking", &s.metrics.Booking)
	report("confirm", &s.metrics.Confirm)
	report("cancel", &s.metrics.Cancel)
	report("read", &s.metrics.Read)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
