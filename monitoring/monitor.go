// Package monitoring serves the state of connection managers over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/delayreg/delay"
	"github.com/sarchlab/delayreg/kernel"
	"github.com/sarchlab/delayreg/monitoring/web"
	"github.com/sarchlab/delayreg/tracing"
)

// Monitor turns connection managers into a web server so that their
// registers can be inspected while a network is built.
type Monitor struct {
	portNumber  int
	openBrowser bool

	lock     sync.Mutex
	managers []*kernel.ConnectionManager
	tracer   *tracing.DelayTracer

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor page in a browser.
func (m *Monitor) WithBrowser() *Monitor {
	m.openBrowser = true
	return m
}

// RegisterManager adds a connection manager to be monitored.
func (m *Monitor) RegisterManager(cm *kernel.ConnectionManager) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.managers = append(m.managers, cm)
}

// RegisterTracer exposes the event counts of a tracer.
func (m *Monitor) RegisterTracer(t *tracing.DelayTracer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.tracer = t
}

// CreateProgressBar creates a progress bar for a build of total
// connections.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		id:    xid.New().String(),
		name:  name,
		start: time.Now(),
		total: total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the webpage.
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

// Handler returns the routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_managers", m.listManagers)
	r.HandleFunc("/api/kernel/{manager}", m.kernelStatus)
	r.HandleFunc("/api/list_registers/{manager}", m.listRegisters)
	r.HandleFunc("/api/register/{manager}/{model}", m.registerStatus)
	r.HandleFunc("/api/register/{manager}/{model}/fields", m.registerFields)
	r.HandleFunc("/api/trace/counts", m.traceCounts)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.Assets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitor.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring delay registers with %s\n", url)

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open a browser: %v\n", err)
		}
	}

	return url, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) listManagers(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	names := make([]string, 0, len(m.managers))
	for _, cm := range m.managers {
		names = append(names, cm.Name())
	}
	m.lock.Unlock()

	writeJSON(w, names)
}

func (m *Monitor) kernelStatus(w http.ResponseWriter, r *http.Request) {
	cm := m.findManagerOr404(w, mux.Vars(r)["manager"])
	if cm == nil {
		return
	}

	writeJSON(w, jsonSafeStatus(cm.KernelStatus()))
}

func (m *Monitor) listRegisters(w http.ResponseWriter, r *http.Request) {
	cm := m.findManagerOr404(w, mux.Vars(r)["manager"])
	if cm == nil {
		return
	}

	writeJSON(w, cm.Models())
}

func (m *Monitor) registerStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	cm := m.findManagerOr404(w, vars["manager"])
	if cm == nil {
		return
	}

	status, err := cm.GetStatus(vars["model"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, jsonSafeStatus(status))
}

func (m *Monitor) registerFields(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	cm := m.findManagerOr404(w, vars["manager"])
	if cm == nil {
		return
	}

	reg, err := cm.Register(vars["model"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(reg)
	serializer.SetMaxDepth(2)
	err = serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) traceCounts(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	tracer := m.tracer
	m.lock.Unlock()

	counts := map[string]uint64{}
	if tracer != nil {
		counts = tracer.Counts()
	}

	writeJSON(w, counts)
}

func (m *Monitor) findManagerOr404(
	w http.ResponseWriter,
	name string,
) *kernel.ConnectionManager {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, cm := range m.managers {
		if cm.Name() == name {
			return cm
		}
	}

	http.Error(w, "Connection manager not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBarSnapshot, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if ms, err := strconv.Atoi(r.URL.Query().Get("ms")); err == nil && ms > 0 {
		duration = time.Duration(ms) * time.Millisecond
	}

	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

// jsonSafeStatus replaces infinite delays, which JSON cannot carry, with
// the strings "inf" and "-inf".
func jsonSafeStatus(s delay.Status) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		if f, ok := v.(float64); ok && math.IsInf(f, 0) {
			if f > 0 {
				v = "inf"
			} else {
				v = "-inf"
			}
		}

		out[k] = v
	}

	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
