package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/api"
	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/log"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	ConfirmRatio  float64
	CheckInRatio  float64
	CancelRatio   float64
	ReadRatio     float64
	CustomerLimit int
	WindowLimit   int
	PostgresDSN   string
	Location      *time.Location
}

type window struct {
	ID           uuid.UUID
	ConsultantID uuid.UUID
	Day          time.Weekday
	Start        time.Duration
	End          time.Duration
}

type DataPool struct {
	Customers []uuid.UUID
	Windows   []window
	Staff     uuid.UUID

	mu           sync.RWMutex
	appointments []booked
}

type booked struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.IntN(len(dp.appointments))], true
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRejected
	outcomeError
)

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min95(len(latencies))]
	return avg, min, max, p50, p95
}

func min95(n int) int {
	i := n * 95 / 100
	if i >= n {
		i = n - 1
	}
	return i
}

type Metrics struct {
	Booking        OperationMetrics
	Confirm        OperationMetrics
	CheckIn        OperationMetrics
	Cancel         OperationMetrics
	ReadByID       OperationMetrics
	ListByCustomer OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	log.Init(log.Config{Level: "info", Output: os.Stdout})
	logger := log.WithComponent("simulate")
	logger.Info().Msg("simulator starting")

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("check_in", cfg.CheckInRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("config")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolConfig{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("customers", len(dataPool.Customers)).Int("windows", len(dataPool.Windows)).Msg("loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	overbooked, err := checkCapacity(context.Background(), pgPool, cfg.Location)
	if err != nil {
		logger.Fatal().Err(err).Msg("capacity check")
	}
	if overbooked > 0 {
		fmt.Printf("CAPACITY VIOLATIONS: %d window-days over max_appointments\n", overbooked)
		os.Exit(1)
	}
	fmt.Println("Capacity check: no window-day exceeds max_appointments")
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}
	if baseCfg.PostgresDSN == "" {
		return SimConfig{}, fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}

	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio:  getFloat("SIM_CONFIRM_RATIO", 0.15),
		CheckInRatio:  getFloat("SIM_CHECK_IN_RATIO", 0.05),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.05),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.25),
		CustomerLimit: getInt("SIM_CUSTOMER_LIMIT", 2000),
		WindowLimit:   getInt("SIM_WINDOW_LIMIT", 50),
		PostgresDSN:   baseCfg.PostgresDSN,
		Location:      baseCfg.Location,
	}
	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CheckInRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CheckInRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{Staff: uuid.New()}

	rows, err := pool.Query(ctx, `
		SELECT id FROM users WHERE role = 'CUSTOMER' AND deleted_at IS NULL LIMIT $1
	`, cfg.CustomerLimit)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Customers = append(dataPool.Customers, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A small window set concentrates load so capacity races actually happen.
	rows, err = pool.Query(ctx, `
		SELECT ca.id, ca.consultant_id, ca.day_of_week,
		       EXTRACT(EPOCH FROM ca.start_time)::bigint, EXTRACT(EPOCH FROM ca.end_time)::bigint
		FROM consultant_availability ca
		JOIN consultant_profiles cp ON cp.id = ca.consultant_id
		WHERE ca.is_available AND cp.status = 'ACTIVE' AND cp.deleted_at IS NULL
		ORDER BY random()
		LIMIT $1
	`, cfg.WindowLimit)
	if err != nil {
		return nil, fmt.Errorf("load windows: %w", err)
	}
	for rows.Next() {
		var w window
		var day int
		var start, end int64
		if err := rows.Scan(&w.ID, &w.ConsultantID, &day, &start, &end); err != nil {
			rows.Close()
			return nil, err
		}
		w.Day = time.Weekday(day)
		w.Start = time.Duration(start) * time.Second
		w.End = time.Duration(end) * time.Second
		dataPool.Windows = append(dataPool.Windows, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Customers) == 0 {
		return nil, fmt.Errorf("no customers loaded, run cmd/seed first")
	}
	if len(dataPool.Windows) == 0 {
		return nil, fmt.Errorf("no availability windows loaded, run cmd/seed first")
	}
	return dataPool, nil
}

// checkCapacity counts window-days holding more reserving appointments than
// the window allows.
func checkCapacity(ctx context.Context, pool *pgxpool.Pool, loc *time.Location) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT a.availability_id, date_trunc('day', a.appointment_date AT TIME ZONE $1)
			FROM appointments a
			JOIN consultant_availability ca ON ca.id = a.availability_id
			WHERE a.status IN ('PENDING', 'CONFIRMED') AND a.deleted_at IS NULL
			GROUP BY a.availability_id, date_trunc('day', a.appointment_date AT TIME ZONE $1), ca.max_appointments
			HAVING count(*) > ca.max_appointments
		) over_capacity
	`, loc.String()).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.ConfirmRatio:
			s.doTransition(ctx, rng, "confirm", &s.metrics.Confirm)
		case r < c.BookingRatio+c.ConfirmRatio+c.CheckInRatio:
			s.doTransition(ctx, rng, "check-in", &s.metrics.CheckIn)
		case r < c.BookingRatio+c.ConfirmRatio+c.CheckInRatio+c.CancelRatio:
			s.doTransition(ctx, rng, "cancel", &s.metrics.Cancel)
		default:
			if rng.IntN(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListByCustomer(ctx, rng)
			}
		}
	}
}

// nextOccurrence returns the next date after now on w's weekday, at a random
// minute inside the window, in the clinic location.
func (s *Simulator) nextOccurrence(rng *rand.Rand, w window) time.Time {
	now := time.Now().In(s.config.Location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.config.Location).AddDate(0, 0, 1)
	for day.Weekday() != w.Day {
		day = day.AddDate(0, 0, 1)
	}
	span := int((w.End - w.Start) / time.Minute)
	offset := w.Start
	if span > 0 {
		offset += time.Duration(rng.IntN(span)) * time.Minute
	}
	return day.Add(offset)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	w := s.pool.Windows[rng.IntN(len(s.pool.Windows))]
	customer := s.pool.Customers[rng.IntN(len(s.pool.Customers))]

	body := api.CreateAppointmentRequest{
		CustomerID:      customer.String(),
		ConsultantID:    w.ConsultantID.String(),
		AppointmentDate: s.nextOccurrence(rng, w),
		Location:        string(appointment.LocationOffice),
	}
	if rng.IntN(4) == 0 {
		body.Location = string(appointment.LocationOnline)
	}

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPost, "/appointments", customer, appointment.RoleCustomer, body)
	latency := time.Since(start)

	o := classify(resp, err, http.StatusCreated)
	if o == outcomeSuccess {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(booked{ID: appt.ID, CustomerID: customer})
		}
	}
	closeBody(resp)
	s.metrics.Booking.Record(latency, o)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, action string, om *OperationMetrics) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	actor, role := s.pool.Staff, appointment.RoleStaff
	if action == "cancel" {
		actor, role = appt.CustomerID, appointment.RoleCustomer
	}

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPost, "/appointments/"+appt.ID.String()+"/"+action, actor, role, nil)
	latency := time.Since(start)

	om.Record(latency, classify(resp, err, http.StatusOK))
	closeBody(resp)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.send(ctx, http.MethodGet, "/appointments/"+appt.ID.String(), appt.CustomerID, appointment.RoleCustomer, nil)
	latency := time.Since(start)

	s.metrics.ReadByID.Record(latency, classify(resp, err, http.StatusOK))
	closeBody(resp)
}

func (s *Simulator) doListByCustomer(ctx context.Context, rng *rand.Rand) {
	customer := s.pool.Customers[rng.IntN(len(s.pool.Customers))]

	start := time.Now()
	resp, err := s.send(ctx, http.MethodGet, "/appointments?limit=20&offset=0", customer, appointment.RoleCustomer, nil)
	latency := time.Since(start)

	s.metrics.ListByCustomer.Record(latency, classify(resp, err, http.StatusOK))
	closeBody(resp)
}

func (s *Simulator) send(ctx context.Context, method, path string, actor uuid.UUID, role appointment.Role, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderActorID, actor.String())
	req.Header.Set(api.HeaderActorRole, string(role))
	return s.client.Do(req)
}

func classify(resp *http.Response, err error, want int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case resp.StatusCode == want:
		return outcomeSuccess
	case resp.StatusCode == http.StatusConflict:
		return outcomeConflict
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return outcomeRejected
	default:
		return outcomeError
	}
}

func closeBody(resp *http.Response) {
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Check-in", &s.metrics.CheckIn)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Customer", &s.metrics.ListByCustomer)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
