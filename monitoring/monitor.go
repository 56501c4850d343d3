// Package monitoring turns a running simulation into a web server that can be
// inspected and paused from a browser.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"go.uber.org/zap"

	"github.com/sarchlab/intersim/monitoring/web"
	"github.com/sarchlab/intersim/sim"
)

// ErrServerNotStarted is returned by operations that need the HTTP server.
var ErrServerNotStarted = errors.New("monitoring server not started")

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	engine     sim.Engine
	portNumber int
	logger     *zap.Logger
	registry   *prometheus.Registry

	snapshotLock sync.RWMutex
	latest       *sim.TrafficSnapshot

	pauseLock sync.Mutex
	paused    bool
	resume    chan struct{}

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	serverLock sync.Mutex
	server     *http.Server
	url        string
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		logger: zap.NewNop(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warn("port number not allowed, using a random port",
			zap.Int("port", portNumber))
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger of the monitor.
func (m *Monitor) WithLogger(logger *zap.Logger) *Monitor {
	m.logger = logger.Named("monitor")
	return m
}

// WithRegistry sets the registry that /metrics exposes.
func (m *Monitor) WithRegistry(registry *prometheus.Registry) *Monitor {
	m.registry = registry
	return m
}

// RegisterEngine registers the engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e sim.Engine) {
	m.engine = e
}

// Publish makes s the snapshot the monitor reports.
func (m *Monitor) Publish(s *sim.TrafficSnapshot) {
	m.snapshotLock.Lock()
	m.latest = s
	m.snapshotLock.Unlock()
}

// Latest returns the last published snapshot, or nil.
func (m *Monitor) Latest() *sim.TrafficSnapshot {
	m.snapshotLock.RLock()
	defer m.snapshotLock.RUnlock()

	return m.latest
}

// Pause makes WaitIfPaused block until Continue is called.
func (m *Monitor) Pause() {
	m.pauseLock.Lock()
	defer m.pauseLock.Unlock()

	if m.paused {
		return
	}

	m.paused = true
	m.resume = make(chan struct{})
	m.logger.Info("simulation paused")
}

// Continue releases a paused simulation.
func (m *Monitor) Continue() {
	m.pauseLock.Lock()
	defer m.pauseLock.Unlock()

	if !m.paused {
		return
	}

	m.paused = false
	close(m.resume)
	m.logger.Info("simulation continued")
}

// IsPaused tells whether the simulation is paused.
func (m *Monitor) IsPaused() bool {
	m.pauseLock.Lock()
	defer m.pauseLock.Unlock()

	return m.paused
}

// WaitIfPaused blocks while the simulation is paused.
func (m *Monitor) WaitIfPaused(ctx context.Context) error {
	m.pauseLock.Lock()
	if !m.paused {
		m.pauseLock.Unlock()
		return nil
	}
	resume := m.resume
	m.pauseLock.Unlock()

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := NewProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the HTTP routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/state", m.state)
	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/api/snapshot/field/{path}", m.snapshotField)

	if m.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	}

	dir := web.SourceDir()
	if dir != "" {
		m.logger.Info("serving dashboard from disk", zap.String("dir", dir))
	}

	dashboard, err := web.Dashboard(dir)
	if err != nil {
		m.logger.Error("dashboard unavailable", zap.Error(err))
	} else {
		r.PathPrefix("/").Handler(dashboard)
	}

	return r
}

// StartServer starts the monitor as a web server and returns its address.
func (m *Monitor) StartServer() (string, error) {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	if m.server != nil {
		return m.url, nil
	}

	actualPort := ":" + strconv.Itoa(m.portNumber)

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("failed to start monitoring server: %w", err)
	}

	m.url = fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", m.url)

	go func(server *http.Server) {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitoring server failed", zap.Error(err))
		}
	}(m.server)

	return m.url, nil
}

// URL returns the address of the running server.
func (m *Monitor) URL() string {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	return m.url
}

// OpenBrowser opens the monitoring page in the default browser.
func (m *Monitor) OpenBrowser() error {
	url := m.URL()
	if url == "" {
		return ErrServerNotStarted
	}

	return browser.OpenURL(url)
}

// Shutdown stops the server. A paused simulation is released.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.Continue()

	m.serverLock.Lock()
	server := m.server
	m.server = nil
	m.serverLock.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

func (m *Monitor) state(w http.ResponseWriter, _ *http.Request) {
	snapshot := m.Latest()

	if snapshot == nil && m.engine != nil && m.engine.IsRunning() {
		s, err := m.engine.State()
		if err == nil {
			snapshot = s
		}
	}

	if snapshot == nil {
		m.httpError(w, http.StatusServiceUnavailable,
			errors.New("no snapshot available yet"))
		return
	}

	m.writeJSON(w, snapshot)
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.Continue()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) snapshotField(w http.ResponseWriter, r *http.Request) {
	snapshot := m.Latest()
	if snapshot == nil {
		m.httpError(w, http.StatusServiceUnavailable,
			errors.New("no snapshot available yet"))
		return
	}

	path := mux.Vars(r)["path"]
	fields := strings.Split(path, ".")

	if _, err := m.walkFields(snapshot, path); err != nil {
		m.httpError(w, http.StatusNotFound, err)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(snapshot)
	serializer.SetMaxDepth(2)

	err := serializer.SetEntryPoint(fields)
	if err != nil {
		m.httpError(w, http.StatusNotFound, err)
		return
	}

	err = serializer.Serialize(w)
	if err != nil {
		m.logger.Error("failed to serialize snapshot field", zap.Error(err))
	}
}

type fieldFormatError struct {
	field  string
	reason string
}

func (e fieldFormatError) Error() string {
	return fmt.Sprintf("field %q: %s", e.field, e.reason)
}

// walkFields follows a dotted path of struct fields, slice indices and map
// keys starting at v.
func (m *Monitor) walkFields(
	v interface{},
	fields string,
) (reflect.Value, error) {
	elem := reflect.ValueOf(v)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		if !elem.IsValid() {
			return elem, fieldFormatError{fields, "path leads to nothing"}
		}

		name := fieldNames[0]

		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			elem = elem.Elem()
			continue
		case reflect.Struct:
			elem = elem.FieldByName(name)
			if !elem.IsValid() {
				return elem, fieldFormatError{name, "no such field"}
			}
		case reflect.Slice:
			index, err := strconv.Atoi(name)
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{name, "bad index"}
			}

			elem = elem.Index(index)
		case reflect.Map:
			keyType := elem.Type().Key()
			if keyType.Kind() != reflect.String {
				return elem, fieldFormatError{name, "map key is not a string"}
			}

			key := reflect.ValueOf(name).Convert(keyType)
			elem = elem.MapIndex(key)
			if !elem.IsValid() {
				return elem, fieldFormatError{name, "no such key"}
			}
		default:
			return elem, fieldFormatError{name,
				fmt.Sprintf("kind %s has no fields", elem.Kind())}
		}

		fieldNames = fieldNames[1:]
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	views := make([]progressBarView, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		views = append(views, b.view())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, views)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	if err != nil {
		m.httpError(w, http.StatusInternalServerError, err)
		return
	}

	cpuPercent, err := process.CPUPercent()
	if err != nil {
		m.httpError(w, http.StatusInternalServerError, err)
		return
	}

	memorySize, err := process.MemoryInfo()
	if err != nil {
		m.httpError(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		m.httpError(w, http.StatusConflict, err)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.httpError(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.httpError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(data)
	if err != nil {
		m.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (m *Monitor) httpError(w http.ResponseWriter, status int, err error) {
	m.logger.Debug("monitoring request failed",
		zap.Int("status", status),
		zap.Error(err),
	)

	http.Error(w, err.Error(), status)
}
