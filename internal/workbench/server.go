// Package workbench serves the pipeline and graph editors of one session
// over HTTP.
package workbench

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/hashicorp/go-hclog"
	"github.com/sourceplane/prestoflow/internal/backend"
	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/pipeline"
	"github.com/sourceplane/prestoflow/internal/session"
)

// Server exposes a session. Requests are handled one at a time.
type Server struct {
	mu     sync.Mutex
	sess   *session.Session
	app    *fiber.App
	logger hclog.Logger
}

// New builds the HTTP app around sess
func New(sess *session.Session, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		sess:   sess,
		app:    fiber.New(fiber.Config{AppName: "prestoflow"}),
		logger: logger,
	}
	s.routes()
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called
func (s *Server) Listen(addr string) error {
	s.logger.Info("workbench listening", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops the listener and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Post("/session", s.locked(s.startSession))
	s.app.Get("/units", s.locked(s.started(s.listUnits)))
	s.app.Get("/state", s.locked(s.started(s.getState)))
	s.app.Get("/log/:idx", s.locked(s.started(s.getLog)))
	s.app.Get("/artifacts/:name", s.locked(s.started(s.download)))

	s.app.Get("/pipeline", s.locked(s.started(s.getPipeline)))
	s.app.Post("/pipeline/steps", s.locked(s.started(s.addStep)))
	s.app.Delete("/pipeline/steps/:id", s.locked(s.started(s.removeStep)))
	s.app.Patch("/pipeline/steps/:id", s.locked(s.started(s.updateStep)))
	s.app.Post("/pipeline/validate", s.locked(s.started(s.validatePipeline)))
	s.app.Post("/pipeline/run", s.locked(s.started(s.runPipeline)))

	s.app.Get("/graph", s.locked(s.started(s.getGraph)))
	s.app.Post("/graph/nodes", s.locked(s.started(s.addNode)))
	s.app.Delete("/graph/nodes/:id", s.locked(s.started(s.removeNode)))
	s.app.Patch("/graph/nodes/:id", s.locked(s.started(s.updateNode)))
	s.app.Post("/graph/edges", s.locked(s.started(s.connect)))
	s.app.Delete("/graph/edges", s.locked(s.started(s.disconnect)))
	s.app.Get("/graph/order", s.locked(s.started(s.order)))
	s.app.Post("/graph/validate", s.locked(s.started(s.validateGraph)))
	s.app.Post("/graph/run", s.locked(s.started(s.runGraph)))
}

func (s *Server) locked(h fiber.Handler) fiber.Handler {
	return func(c fiber.Ctx) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return h(c)
	}
}

func (s *Server) started(h fiber.Handler) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !s.sess.Started() {
			return fail(c, session.ErrNotStarted)
		}
		return h(c)
	}
}

// fail maps an error to a status code and a JSON body
func fail(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if be, ok := backend.AsError(err); ok {
		code = fiber.StatusBadGateway
		if be.Kind == backend.KindRemote && be.Status >= 400 && be.Status < 500 {
			code = be.Status
		}
	}
	switch {
	case errors.Is(err, session.ErrNotStarted):
		code = fiber.StatusConflict
	case errors.Is(err, graph.ErrNodeNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, graph.ErrUnknownUnit),
		errors.Is(err, graph.ErrSelfLoop),
		errors.Is(err, graph.ErrDuplicateEdge),
		errors.Is(err, graph.ErrIncompatibleChannels),
		errors.Is(err, graph.ErrBranchNotAllowed):
		code = fiber.StatusUnprocessableEntity
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func (s *Server) startSession(c fiber.Ctx) error {
	group := model.Group(c.Query("group", string(model.GroupBulk)))
	if group != model.GroupBulk && group != model.GroupSC {
		return badRequest(c, "group must be bulk or sc")
	}
	if err := s.sess.Start(c.Context(), group); err != nil {
		s.logger.Error("session start failed", "error", err)
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": s.sess.ID(),
		"group":      s.sess.Group(),
		"units":      s.sess.Catalog().Len(),
	})
}

// listUnits returns the page's units with their DAG metadata filled in,
// derived from requires when the backend declares none
func (s *Server) listUnits(c fiber.Ctx) error {
	cat := s.sess.Catalog()
	units := cat.Units()
	for i := range units {
		if meta, ok := cat.Meta(units[i].ID); ok {
			units[i].DagMeta = &meta
		}
	}
	return c.JSON(units)
}

func (s *Server) getLog(c fiber.Ctx) error {
	idx, err := strconv.Atoi(c.Params("idx"))
	if err != nil || idx < 0 {
		return badRequest(c, "invalid step index")
	}
	text, err := s.sess.StepLog(c.Context(), idx)
	if err != nil {
		return fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(text)
}

func (s *Server) download(c fiber.Ctx) error {
	name := c.Params("name")
	var buf bytes.Buffer
	if _, err := s.sess.Download(c.Context(), name, &buf); err != nil {
		return fail(c, err)
	}
	c.Attachment(name)
	return c.Send(buf.Bytes())
}

func (s *Server) getState(c fiber.Ctx) error {
	st, err := s.sess.Refresh(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(st)
}

type stepView struct {
	model.Step
	Active bool `json:"active"`
}

func (s *Server) getPipeline(c fiber.Ctx) error {
	all := s.sess.Pipeline().All()
	out := make([]stepView, 0, len(all))
	for _, step := range all {
		out = append(out, stepView{Step: step, Active: step.Active()})
	}
	return c.JSON(out)
}

type addStepRequest struct {
	Unit   string            `json:"unit"`
	Label  string            `json:"label"`
	Params map[string]string `json:"params"`
}

func (s *Server) addStep(c fiber.Ctx) error {
	var req addStepRequest
	if err := c.Bind().JSON(&req); err != nil || req.Unit == "" {
		return badRequest(c, "invalid body")
	}

	cat := s.sess.Catalog()
	unit, ok := cat.Unit(req.Unit)
	if !ok {
		return fail(c, graph.ErrUnknownUnit)
	}
	params, _ := cat.DefaultParams(unit.ID)
	for k, v := range req.Params {
		params[k] = v
	}
	label := req.Label
	if label == "" {
		label = unit.Label
	}

	step := s.sess.Pipeline().Add(unit.ID, label, params, pipeline.NewToggle(true))
	return c.Status(fiber.StatusCreated).JSON(stepView{Step: step, Active: true})
}

func stepID(c fiber.Ctx) (int, bool) {
	id, err := strconv.Atoi(c.Params("id"))
	return id, err == nil
}

func (s *Server) removeStep(c fiber.Ctx) error {
	id, ok := stepID(c)
	if !ok {
		return badRequest(c, "invalid step id")
	}
	if !s.sess.Pipeline().Remove(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "step not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type updateStepRequest struct {
	Active *bool `json:"active"`
	Index  *int  `json:"index"`
}

func (s *Server) updateStep(c fiber.Ctx) error {
	id, ok := stepID(c)
	if !ok {
		return badRequest(c, "invalid step id")
	}
	var req updateStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	p := s.sess.Pipeline()
	step, ok := p.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "step not found"})
	}
	if req.Active != nil {
		toggle, ok := step.Source.(*pipeline.Toggle)
		if !ok {
			return badRequest(c, "step cannot be toggled")
		}
		toggle.Set(*req.Active)
	}
	if req.Index != nil {
		if err := p.Move(id, *req.Index); err != nil {
			return badRequest(c, err.Error())
		}
	}

	step, _ = p.Get(id)
	return c.JSON(stepView{Step: step, Active: step.Active()})
}

func (s *Server) validatePipeline(c fiber.Ctx) error {
	report, err := s.sess.ValidateLinear(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(report)
}

func (s *Server) runPipeline(c fiber.Ctx) error {
	report, res, err := s.sess.RunLinear(c.Context(), nil)
	return s.runResponse(c, report, res, err)
}

func (s *Server) getGraph(c fiber.Ctx) error {
	return c.JSON(s.sess.Graph().View())
}

type addNodeRequest struct {
	Unit   string            `json:"unit"`
	Branch string            `json:"branch"`
	Label  string            `json:"label"`
	Params map[string]string `json:"params"`
}

func (s *Server) addNode(c fiber.Ctx) error {
	var req addNodeRequest
	if err := c.Bind().JSON(&req); err != nil || req.Unit == "" {
		return badRequest(c, "invalid body")
	}
	node, err := s.sess.Graph().AddNode(req.Unit, req.Branch, graph.AddOptions{Label: req.Label, Params: req.Params})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(node)
}

func (s *Server) removeNode(c fiber.Ctx) error {
	if err := s.sess.Graph().RemoveNode(c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type updateNodeRequest struct {
	Branch string            `json:"branch"`
	Params map[string]string `json:"params"`
}

func (s *Server) updateNode(c fiber.Ctx) error {
	var req updateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	id := c.Params("id")
	g := s.sess.Graph()
	if req.Branch != "" {
		if err := g.SetBranch(id, req.Branch); err != nil {
			return fail(c, err)
		}
	}
	if len(req.Params) > 0 {
		if err := g.SetParams(id, req.Params); err != nil {
			return fail(c, err)
		}
	}

	node, ok := g.Node(id)
	if !ok {
		return fail(c, graph.ErrNodeNotFound)
	}
	return c.JSON(node)
}

type edgeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) connect(c fiber.Ctx) error {
	var req edgeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	edge, err := s.sess.Graph().Connect(req.From, req.To)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(edge)
}

func (s *Server) disconnect(c fiber.Ctx) error {
	if !s.sess.Graph().Disconnect(c.Query("from"), c.Query("to")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "edge not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) order(c fiber.Ctx) error {
	g := s.sess.Graph()
	order := g.TopoOrder()
	if order == nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": graph.ErrCycle.Error(),
			"cycle": g.Cycle(),
		})
	}
	return c.JSON(fiber.Map{"order": order})
}

func (s *Server) validateGraph(c fiber.Ctx) error {
	report, err := s.sess.ValidateGraph(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(report)
}

func (s *Server) runGraph(c fiber.Ctx) error {
	report, res, err := s.sess.RunGraph(c.Context(), nil)
	return s.runResponse(c, report, res, err)
}

// runResponse reports a run. A pipeline that failed validation is a 422
// carrying the report; a step failure is still a 200 with ok false.
func (s *Server) runResponse(c fiber.Ctx, report interface{}, res interface{}, err error) error {
	switch {
	case errors.Is(err, session.ErrInvalid):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error(), "report": report})
	case errors.Is(err, session.ErrNotStarted):
		return fail(c, err)
	}

	body := fiber.Map{"report": report, "result": res}
	if err != nil {
		s.logger.Warn("run finished with errors", "error", err)
		body["error"] = err.Error()
	}
	return c.JSON(body)
}
