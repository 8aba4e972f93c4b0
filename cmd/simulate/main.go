package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SimConfig drives a booking load against a running api-server. Every worker books
// on the same small set of resources so that lock contention and conflicts are real.
type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Resources     int
	Days          int
	Subjects      int
	BookingRatio  float64
	ChangeRatio   float64
	ReadRatio     float64
	StartDate     time.Time
	DurationMins  int
	SlotStepMins  int
	WorkStartHour int
	WorkEndHour   int
}

type DataPool struct {
	Resources    []uuid.UUID
	Subjects     []uuid.UUID
	Dates        []string
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(f *gofakeit.Faker) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[f.Number(0, len(dp.appointments)-1)], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}
	latencies := append([]time.Duration(nil), om.Latencies...)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	FindSlots  OperationMetrics
	ListByUser OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("resources", cfg.Resources).
		Int("days", cfg.Days).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		pool:   newDataPool(cfg),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	setupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = sim.putSchedules(setupCtx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("schedule setup failed")
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	start := time.Now().UTC().AddDate(0, 0, 1)
	if v := os.Getenv("SIM_START_DATE"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_START_DATE: %w", err)
		}
		start = d
	}

	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Resources:     getInt("SIM_RESOURCES", 5),
		Days:          getInt("SIM_DAYS", 3),
		Subjects:      getInt("SIM_SUBJECTS", 500),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		ChangeRatio:   getFloat("SIM_CHANGE_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		StartDate:     time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		DurationMins:  getInt("SIM_APPOINTMENT_MINUTES", 30),
		SlotStepMins:  15,
		WorkStartHour: 9,
		WorkEndHour:   17,
	}

	total := cfg.BookingRatio + cfg.ChangeRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ChangeRatio /= total
		cfg.ReadRatio /= total
	}

	switch {
	case cfg.Workers <= 0:
		return cfg, errors.New("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return cfg, errors.New("SIM_DURATION must be > 0")
	case cfg.Resources <= 0 || cfg.Days <= 0 || cfg.Subjects <= 0:
		return cfg, errors.New("SIM_RESOURCES, SIM_DAYS and SIM_SUBJECTS must be > 0")
	}
	return cfg, nil
}

func newDataPool(cfg SimConfig) *DataPool {
	dp := &DataPool{}
	for i := 0; i < cfg.Resources; i++ {
		dp.Resources = append(dp.Resources, uuid.New())
	}
	for i := 0; i < cfg.Subjects; i++ {
		dp.Subjects = append(dp.Subjects, uuid.New())
	}
	for d := 0; d < cfg.Days; d++ {
		dp.Dates = append(dp.Dates, cfg.StartDate.AddDate(0, 0, d).Format("2006-01-02"))
	}
	return dp
}

func (s *Simulator) putSchedules(ctx context.Context) error {
	for _, res := range s.pool.Resources {
		for _, date := range s.pool.Dates {
			body := map[string]any{
				"work_start":            fmt.Sprintf("%02d:00", s.config.WorkStartHour),
				"work_end":              fmt.Sprintf("%02d:00", s.config.WorkEndHour),
				"break_start":           "12:00",
				"break_end":             "13:00",
				"slot_duration_minutes": s.config.SlotStepMins,
				"specialty":             "General Practice",
			}
			status, err := s.send(ctx, http.MethodPut, fmt.Sprintf("/resources/%s/schedules/%s", res, date), body, nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("put schedule %s %s: status %d", res, date, status)
			}
		}
	}
	s.logger.Info().Int("schedules", len(s.pool.Resources)*len(s.pool.Dates)).Msg("resource schedules ready")
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, gofakeit.New(0))
		}()
	}
	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, f *gofakeit.Faker) {
	for ctx.Err() == nil {
		r := f.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, f)
		case r < s.config.BookingRatio+s.config.ChangeRatio:
			if f.Bool() {
				s.doReschedule(ctx, f)
			} else {
				s.doCancel(ctx, f)
			}
		default:
			if f.Bool() {
				s.doFindSlots(ctx, f)
			} else {
				s.doListBySubject(ctx, f)
			}
		}
	}
}

func (s *Simulator) randomStart(f *gofakeit.Faker) string {
	steps := (s.config.WorkEndHour - s.config.WorkStartHour) * 60 / s.config.SlotStepMins
	m := s.config.WorkStartHour*60 + f.Number(0, steps-1)*s.config.SlotStepMins
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func (s *Simulator) doBooking(ctx context.Context, f *gofakeit.Faker) {
	body := map[string]any{
		"subject_id":       s.pool.Subjects[f.Number(0, len(s.pool.Subjects)-1)].String(),
		"resource_id":      s.pool.Resources[f.Number(0, len(s.pool.Resources)-1)].String(),
		"date":             f.RandomString(s.pool.Dates),
		"start_time":       s.randomStart(f),
		"duration_minutes": s.config.DurationMins,
		"category":         f.RandomString([]string{"consultation", "follow_up", "diagnostic"}),
		"reason":           f.RandomString([]string{"annual review", "follow-up", "new symptoms", "test results"}),
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.send(ctx, http.MethodPost, "/appointments", body, &created)
	s.metrics.Booking.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
}

func (s *Simulator) doReschedule(ctx context.Context, f *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(f)
	if !ok {
		return
	}
	body := map[string]any{
		"date":       f.RandomString(s.pool.Dates),
		"start_time": s.randomStart(f),
		"reason":     "simulated change",
	}

	var moved struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.send(ctx, http.MethodPatch, "/appointments/"+id.String()+"/reschedule", body, &moved)
	s.metrics.Reschedule.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusOK && moved.ID != uuid.Nil {
		s.pool.AddAppointment(moved.ID)
	}
}

func (s *Simulator) doCancel(ctx context.Context, f *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(f)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.send(ctx, http.MethodPatch, "/appointments/"+id.String()+"/cancel", map[string]string{"reason": "simulated"}, nil)
	s.metrics.Cancel.Record(time.Since(start), status, err)
}

func (s *Simulator) doFindSlots(ctx context.Context, f *gofakeit.Faker) {
	path := fmt.Sprintf("/slots?resource=%s&date=%s&duration=%d",
		s.pool.Resources[f.Number(0, len(s.pool.Resources)-1)], f.RandomString(s.pool.Dates), s.config.DurationMins)
	start := time.Now()
	status, err := s.send(ctx, http.MethodGet, path, nil, nil)
	s.metrics.FindSlots.Record(time.Since(start), status, err)
}

func (s *Simulator) doListBySubject(ctx context.Context, f *gofakeit.Faker) {
	path := "/appointments?subject_id=" + s.pool.Subjects[f.Number(0, len(s.pool.Subjects)-1)].String()
	start := time.Now()
	status, err := s.send(ctx, http.MethodGet, path, nil, nil)
	s.metrics.ListByUser.Record(time.Since(start), status, err)
}

// send performs one JSON request; out is decoded only for 2xx responses.
func (s *Simulator) send(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Resources: %d x %d days\n", s.config.Resources, s.config.Days)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Find slots", &s.metrics.FindSlots)
	printOperationReport("List by subject", &s.metrics.ListByUser)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

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
