// Package backendtest runs an in-process fake of the session backend for tests.
package backendtest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sourceplane/prestoflow/internal/model"
)

// Server is a fake backend. Units listed in Outputs update the given backend
// channels on success; units listed in Failures answer with an error body.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	units     []model.Unit
	sessions  map[string]*model.SessionState
	logs      map[string]map[int]string
	failures  map[string]string
	outputs   map[string][]string
	delay     time.Duration
	calls     []string
	inFlight  int
	maxFlight int
	nextID    int
}

// New starts a fake backend serving the given units
func New(units []model.Unit) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		units:    units,
		sessions: make(map[string]*model.SessionState),
		logs:     make(map[string]map[int]string),
		failures: make(map[string]string),
		outputs:  make(map[string][]string),
	}

	router := gin.New()
	router.POST("/session/start", s.start)
	router.GET("/session/:sid/units", s.listUnits)
	router.POST("/session/:sid/upload", s.upload)
	router.POST("/session/:sid/upload-aux", s.uploadAux)
	router.POST("/session/:sid/run", s.run)
	router.GET("/session/:sid/state", s.state)
	router.GET("/session/:sid/log/:idx", s.log)
	router.GET("/session/:sid/download/:name", s.download)

	s.Server = httptest.NewServer(router)
	return s
}

// Fail makes every run of unitID fail with message
func (s *Server) Fail(unitID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[unitID] = message
}

// Produces sets the backend channels a unit updates on success
func (s *Server) Produces(unitID string, channels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[unitID] = channels
}

// Delay slows every run call down, so concurrent runs overlap
func (s *Server) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetCurrent seeds a channel in a session's current mapping
func (s *Server) SetCurrent(sessionID, channel, artifact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[sessionID]; ok {
		st.Current[channel] = artifact
	}
}

// Calls returns the unit ids of every run call received, in arrival order
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// MaxInFlight returns the highest number of overlapping run calls seen
func (s *Server) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxFlight
}

func (s *Server) start(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sid := fmt.Sprintf("session-%d", s.nextID)
	s.sessions[sid] = newState(sid)
	s.logs[sid] = make(map[int]string)
	c.JSON(http.StatusOK, gin.H{"session_id": sid})
}

func (s *Server) session(c *gin.Context) (*model.SessionState, bool) {
	st, ok := s.sessions[c.Param("sid")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
	}
	return st, ok
}

func (s *Server) listUnits(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.session(c); !ok {
		return
	}
	// the real backend ignores the group query
	c.JSON(http.StatusOK, s.units)
}

func (s *Server) upload(c *gin.Context) {
	r1, err := c.FormFile("r1")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "field required: r1"}}})
		return
	}
	r2, _ := c.FormFile("r2")

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.session(c)
	if !ok {
		return
	}

	st.Artifacts["R1_raw"] = model.Artifact{Name: "R1_raw", Path: r1.Filename, Kind: "fastq", Channel: "R1"}
	st.Current["R1"] = "R1_raw"
	if r2 != nil {
		st.Artifacts["R2_raw"] = model.Artifact{Name: "R2_raw", Path: r2.Filename, Kind: "fastq", Channel: "R2"}
		st.Current["R2"] = "R2_raw"
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "current": st.Current})
}

func (s *Server) uploadAux(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "field required: file"}}})
		return
	}
	name := c.PostForm("name")
	if name == "" {
		name = file.Filename
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.session(c)
	if !ok {
		return
	}

	role := model.GuessAuxRole(name)
	if role != model.AuxRoleOther {
		st.Aux[role] = name
	}
	st.AuxFiles = append(st.AuxFiles, name)
	c.JSON(http.StatusOK, gin.H{"stored_as": name, "role": role})
}

func (s *Server) run(c *gin.Context) {
	var body struct {
		UnitID string            `json:"unit_id"`
		Params map[string]string `json:"params"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	st, ok := s.session(c)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.calls = append(s.calls, body.UnitID)
	s.inFlight++
	if s.inFlight > s.maxFlight {
		s.maxFlight = s.inFlight
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--

	idx := len(st.Steps)
	if msg, failing := s.failures[body.UnitID]; failing {
		tail := fmt.Sprintf("[CMD] %s\nERROR> %s\n", body.UnitID, msg)
		s.logs[st.SessionID][idx] = tail
		c.JSON(http.StatusInternalServerError, gin.H{"detail": gin.H{"error": msg, "log_tail": tail}})
		return
	}

	params := make(map[string]interface{}, len(body.Params))
	for k, v := range body.Params {
		params[k] = v
	}
	record := model.StepRecord{StepIndex: idx, Unit: body.UnitID, Params: params}
	for _, ch := range s.outputs[body.UnitID] {
		name := fmt.Sprintf("%s_%03d", ch, idx)
		art := model.Artifact{Name: name, Path: name + ".fastq", Kind: "fastq", Channel: ch, FromStep: idx}
		st.Artifacts[name] = art
		st.Current[ch] = name
		record.Produced = append(record.Produced, art)
	}
	st.Steps = append(st.Steps, record)
	s.logs[st.SessionID][idx] = fmt.Sprintf("[CMD] %s\nok\n", body.UnitID)

	c.JSON(http.StatusOK, gin.H{"step": record, "current": st.Current, "artifacts": st.Artifacts})
}

func (s *Server) state(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) log(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "step_index must be an integer"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.session(c)
	if !ok {
		return
	}
	text, ok := s.logs[st.SessionID][idx]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Log not found"})
		return
	}
	c.String(http.StatusOK, text)
}

func (s *Server) download(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.session(c)
	if !ok {
		return
	}
	art, ok := st.Artifacts[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Artifact not found"})
		return
	}
	c.Status(http.StatusOK)
	_, _ = io.WriteString(c.Writer, "@"+art.Name+"\nACGT\n+\nIIII\n")
}

func newState(sid string) *model.SessionState {
	return &model.SessionState{
		SessionID: sid,
		Steps:     []model.StepRecord{},
		Artifacts: map[string]model.Artifact{},
		Current:   map[string]string{},
		Aux:       map[string]string{},
		AuxFiles:  []string{},
	}
}
