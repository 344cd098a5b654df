package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-service/pkg/shttp"
	"github.com/galdor/go-simnet/pkg/simnet"
	"github.com/galdor/go-simnet/pkg/simulation"
)

const roundTimeout = 30 * time.Second

type APIServer struct {
	Service *Service
}

type requestData interface {
	ValidateJSON(*jsonvalidator.Validator)
}

type ProcessRegistration struct {
	Id      simnet.ProcessId `json:"id,omitempty"`
	Address string           `json:"address,omitempty"`
}

func (r *ProcessRegistration) ValidateJSON(v *jsonvalidator.Validator) {
	v.Check("id", r.Id >= 0, "invalid_value", "invalid process id %d", r.Id)
}

type SendRequest struct {
	Recipient simnet.ProcessId `json:"recipient"`
	Body      string           `json:"body"`
}

func (r *SendRequest) ValidateJSON(v *jsonvalidator.Validator) {
	v.Check("recipient", r.Recipient.IsProcess() ||
		r.Recipient == simnet.Broadcast, "invalid_value",
		"invalid recipient %d", r.Recipient)
}

type RoundsRequest struct {
	Count int `json:"count"`
}

func (r *RoundsRequest) ValidateJSON(v *jsonvalidator.Validator) {
	v.Check("count", r.Count >= 1, "invalid_value",
		"count must be greater or equal to 1")
}

type OpsRequest struct {
	Ops []string `json:"ops"`
}

func (r *OpsRequest) ValidateJSON(v *jsonvalidator.Validator) {
	v.WithChild("ops", func() {
		for i, s := range r.Ops {
			_, err := simulation.DecodeOp(s)
			v.Check(strconv.Itoa(i), err == nil, "invalid_op", "%v", err)
		}
	})
}

type ProcessView struct {
	Id         simnet.ProcessId      `json:"id"`
	Kind       string                `json:"kind"`
	Address    string                `json:"address,omitempty"`
	Clock      *simnet.Timestamp     `json:"clock,omitempty"`
	Deliveries []string              `json:"deliveries,omitempty"`
	Pending    []simnet.Message      `json:"pending,omitempty"`
	Election   *simnet.ElectionState `json:"election,omitempty"`
}

type StatusView struct {
	Protocol simulation.Protocol `json:"protocol"`
	Round    int                 `json:"round"`
	Stats    simnet.RouterStats  `json:"stats"`
}

type DispatchView struct {
	Dispatched int `json:"dispatched"`
	Queued     int `json:"queued"`
}

type ScenarioView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ScenarioRunView struct {
	Result *simulation.Result `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func NewAPIServer(s *Service) (*APIServer, error) {
	api := APIServer{
		Service: s,
	}

	return &api, nil
}

func (api *APIServer) Init() error {
	api.initRoutes()
	return nil
}

func (api *APIServer) initRoutes() {
	api.Route("/status", "GET", api.hStatusGET)

	api.Route("/processes", "GET", api.hProcessesGET)
	api.Route("/processes", "POST", api.hProcessesPOST)
	api.Route("/processes/:id", "GET", api.hProcessGET)
	api.Route("/processes/:id/messages", "POST", api.hProcessMessagesPOST)
	api.Route("/processes/:id/candidacy", "POST", api.hProcessCandidacyPOST)

	api.Route("/lock", "POST", api.hLockPOST)
	api.Route("/queue", "GET", api.hQueueGET)
	api.Route("/dispatch/:policy", "POST", api.hDispatchPOST)
	api.Route("/rounds", "POST", api.hRoundsPOST)
	api.Route("/election", "GET", api.hElectionGET)
	api.Route("/ops", "POST", api.hOpsPOST)

	api.Route("/scenarios", "GET", api.hScenariosGET)
	api.Route("/scenarios/:name", "POST", api.hScenarioPOST)

	api.Route("/trace", "GET", api.hTraceGET)
}

func (api *APIServer) Route(pathPattern, method string, routeFunc shttp.RouteFunc) {
	s := api.Service.Service.HTTPServer("api")
	s.Route(pathPattern, method, routeFunc)
}

func (api *APIServer) sim() *simulation.Simulation {
	return api.Service.sim
}

func (api *APIServer) readRequest(h *shttp.Handler, value requestData) bool {
	if err := json.NewDecoder(h.Request.Body).Decode(value); err != nil {
		h.ReplyError(400, "invalid_request_body",
			"cannot decode request body: %v", err)
		return false
	}

	v := jsonvalidator.NewValidator()
	value.ValidateJSON(v)

	if err := v.Error(); err != nil {
		h.ReplyError(400, "invalid_request_body", "%v", err)
		return false
	}

	return true
}

func (api *APIServer) processId(h *shttp.Handler) (simnet.ProcessId, bool) {
	s := h.RouteVariable("id")

	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		h.ReplyError(400, "invalid_process_id", "invalid process id %q", s)
		return 0, false
	}

	return simnet.ProcessId(id), true
}

func (api *APIServer) replySimError(h *shttp.Handler, err error) {
	var unknownProcessErr *simulation.UnknownProcessError
	var duplicateIdErr *simnet.DuplicateIdError
	var expectationErr *simulation.ExpectationError

	switch {
	case errors.Is(err, simnet.ErrLocked):
		h.ReplyError(409, "network_locked", "%v", err)
	case errors.Is(err, simnet.ErrDispatchDisabled):
		h.ReplyError(409, "dispatch_disabled", "%v", err)
	case errors.Is(err, simnet.ErrAlreadyCandidate),
		errors.Is(err, simnet.ErrAlreadyElected):
		h.ReplyError(409, "invalid_candidacy", "%v", err)
	case errors.As(err, &unknownProcessErr):
		h.ReplyError(404, "unknown_process", "%v", err)
	case errors.As(err, &duplicateIdErr):
		h.ReplyError(409, "duplicate_process_id", "%v", err)
	case errors.As(err, &expectationErr):
		h.ReplyError(422, "unexpected_result", "%v", err)
	default:
		h.ReplyError(400, "simulation_error", "%v", err)
	}
}

func (api *APIServer) hStatusGET(h *shttp.Handler) {
	sim := api.sim()

	status := StatusView{
		Protocol: sim.Cfg.Protocol,
		Round:    sim.Coordinator.Round(),
		Stats:    sim.Router.Stats(),
	}

	h.ReplyJSON(200, status)
}

func (api *APIServer) processView(id simnet.ProcessId) (*ProcessView, error) {
	p, err := api.sim().Process(id)
	if err != nil {
		return nil, err
	}

	view := ProcessView{Id: id}

	switch p := p.(type) {
	case *simnet.EchoProcess:
		view.Kind = "echo"
		view.Deliveries = p.Received().Bodies()

	case *simnet.CausalProcess:
		clock := p.Clock()

		view.Kind = "causal"
		view.Clock = &clock
		view.Deliveries = p.Delivered().Bodies()
		view.Pending = p.Pending()

	case *simnet.ElectionProcess:
		state := p.State()

		view.Kind = "election"
		view.Election = &state

	case *simnet.HTTPPeer:
		view.Kind = "remote"
		view.Address = p.Address

	default:
		view.Kind = fmt.Sprintf("%T", p)
	}

	return &view, nil
}

func (api *APIServer) hProcessesGET(h *shttp.Handler) {
	ids := api.sim().Router.Ids()

	views := make([]*ProcessView, 0, len(ids))
	for _, id := range ids {
		view, err := api.processView(id)
		if err != nil {
			api.replySimError(h, err)
			return
		}

		views = append(views, view)
	}

	h.ReplyJSON(200, views)
}

func (api *APIServer) hProcessesPOST(h *shttp.Handler) {
	var registration ProcessRegistration
	if !api.readRequest(h, &registration) {
		return
	}

	sim := api.sim()

	var id simnet.ProcessId
	var err error

	if registration.Address == "" {
		id, err = sim.Spawn(registration.Id)
	} else {
		var peer *simnet.HTTPPeer

		peer, err = simnet.NewHTTPPeer(registration.Address,
			api.Service.simLogger("peer"))
		if err == nil {
			id, err = sim.Router.Register(peer, registration.Id)
		}
	}

	if err != nil {
		api.replySimError(h, err)
		return
	}

	view, err := api.processView(id)
	if err != nil {
		api.replySimError(h, err)
		return
	}

	h.ReplyJSON(201, view)
}

func (api *APIServer) hProcessGET(h *shttp.Handler) {
	id, ok := api.processId(h)
	if !ok {
		return
	}

	view, err := api.processView(id)
	if err != nil {
		api.replySimError(h, err)
		return
	}

	h.ReplyJSON(200, view)
}

func (api *APIServer) hProcessMessagesPOST(h *shttp.Handler) {
	id, ok := api.processId(h)
	if !ok {
		return
	}

	var req SendRequest
	if !api.readRequest(h, &req) {
		return
	}

	if err := api.sim().Send(id, req.Recipient, req.Body); err != nil {
		api.replySimError(h, err)
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hProcessCandidacyPOST(h *shttp.Handler) {
	id, ok := api.processId(h)
	if !ok {
		return
	}

	if err := api.sim().StartCandidate(id); err != nil {
		api.replySimError(h, err)
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hLockPOST(h *shttp.Handler) {
	api.sim().Lock()

	h.ReplyEmpty(204)
}

func (api *APIServer) hQueueGET(h *shttp.Handler) {
	h.ReplyJSON(200, api.sim().Router.Queue())
}

func (api *APIServer) hDispatchPOST(h *shttp.Handler) {
	router := api.sim().Router

	var n int
	var err error

	policy := h.RouteVariable("policy")

	switch policy {
	case "next":
		var dispatched bool
		dispatched, err = router.DispatchSequential()
		if dispatched {
			n = 1
		}

	case "random":
		var dispatched bool
		dispatched, err = router.DispatchRandomOne()
		if dispatched {
			n = 1
		}

	case "all":
		n, err = router.DispatchAll()

	case "random-all":
		n, err = router.DispatchRandomAll()

	case "index":
		s := h.Request.URL.Query().Get("index")

		index, convErr := strconv.Atoi(s)
		if convErr != nil {
			h.ReplyError(400, "invalid_index", "invalid queue index %q", s)
			return
		}

		err = router.DispatchIndex(index)
		if err == nil {
			n = 1
		}

	default:
		h.ReplyError(404, "unknown_dispatch_policy",
			"unknown dispatch policy %q", policy)
		return
	}

	if err != nil {
		api.replySimError(h, err)
		return
	}

	view := DispatchView{
		Dispatched: n,
		Queued:     router.QueueLen(),
	}

	h.ReplyJSON(200, view)
}

func (api *APIServer) hRoundsPOST(h *shttp.Handler) {
	req := RoundsRequest{Count: 1}
	if h.Request.ContentLength != 0 {
		if !api.readRequest(h, &req) {
			return
		}
	}

	ctx, cancel := context.WithTimeout(h.Request.Context(), roundTimeout)
	defer cancel()

	sim := api.sim()

	for i := 0; i < req.Count; i++ {
		if err := sim.AdvanceRound(ctx); err != nil {
			h.ReplyError(500, "round_failure", "%v", err)
			return
		}
	}

	h.ReplyJSON(200, StatusView{
		Protocol: sim.Cfg.Protocol,
		Round:    sim.Coordinator.Round(),
		Stats:    sim.Router.Stats(),
	})
}

func (api *APIServer) hElectionGET(h *shttp.Handler) {
	sim := api.sim()

	result := simulation.ElectionResult{
		Rounds: sim.Coordinator.Round(),
		States: sim.ElectionStates(),
	}

	for _, state := range result.States {
		if state.Status == simnet.ElectionStatusElected {
			result.Leader = state.Id
		}
	}

	h.ReplyJSON(200, result)
}

func (api *APIServer) hOpsPOST(h *shttp.Handler) {
	var req OpsRequest
	if !api.readRequest(h, &req) {
		return
	}

	ops, err := simulation.DecodeOps(req.Ops)
	if err != nil {
		h.ReplyError(400, "invalid_op", "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(h.Request.Context(), roundTimeout)
	defer cancel()

	sim := api.sim()

	for i, op := range ops {
		if err := op.Apply(ctx, sim); err != nil {
			api.replySimError(h, fmt.Errorf("cannot apply op %d (%s): %w",
				i+1, simulation.EncodeOp(op), err))
			return
		}
	}

	result, err := sim.Result("ops")
	if err != nil {
		api.replySimError(h, err)
		return
	}

	h.ReplyJSON(200, result)
}

func (api *APIServer) hScenariosGET(h *shttp.Handler) {
	scenarios := simulation.Scenarios()

	views := make([]ScenarioView, len(scenarios))
	for i, scenario := range scenarios {
		views[i] = ScenarioView{
			Name:        scenario.ScenarioName(),
			Description: scenario.ScenarioDescription(),
		}
	}

	h.ReplyJSON(200, views)
}

func (api *APIServer) hScenarioPOST(h *shttp.Handler) {
	name := h.RouteVariable("name")

	scenario, err := simulation.FindScenario(name)
	if err != nil {
		h.ReplyError(404, "unknown_scenario", "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(h.Request.Context(), roundTimeout)
	defer cancel()

	cfg := simulation.Cfg{
		Logger: api.Service.simLogger("scenario-" + name),
		Seed:   api.Service.Cfg.Simnet.Seed,
	}

	result, err := scenario.Run(ctx, cfg)

	var expectationErr *simulation.ExpectationError
	if err != nil && !errors.As(err, &expectationErr) {
		api.replySimError(h, err)
		return
	}

	view := ScenarioRunView{Result: result}
	if err != nil {
		view.Error = err.Error()
	}

	h.ReplyJSON(200, view)
}

func (api *APIServer) hTraceGET(h *shttp.Handler) {
	var after uint64

	if s := h.Request.URL.Query().Get("after"); s != "" {
		i, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			h.ReplyError(400, "invalid_sequence_number",
				"invalid sequence number %q", s)
			return
		}

		after = i
	}

	h.ReplyJSON(200, api.Service.traceStore.Entries(after))
}
