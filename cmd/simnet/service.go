package main

import (
	"fmt"
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-service/pkg/service"
	"github.com/galdor/go-service/pkg/shttp"
	"github.com/galdor/go-simnet/pkg/simnet"
	"github.com/galdor/go-simnet/pkg/simulation"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Simnet  SimnetCfg          `json:"simnet"`
}

type SimnetCfg struct {
	APIAddress       string `json:"apiAddress"`
	TransportAddress string `json:"transportAddress,omitempty"`

	Protocol  simulation.Protocol `json:"protocol"`
	Mode      simnet.Mode         `json:"mode"`
	Seed      int64               `json:"seed,omitempty"`
	Processes int                 `json:"processes,omitempty"`

	AutoDispatch     bool                  `json:"autoDispatch,omitempty"`
	DispatchInterval int                   `json:"dispatchInterval,omitempty"` // milliseconds
	DispatchPolicy   simnet.DispatchPolicy `json:"dispatchPolicy,omitempty"`

	AutoAdvance   bool `json:"autoAdvance,omitempty"`
	RoundInterval int  `json:"roundInterval,omitempty"` // milliseconds

	ShuffleLinks bool `json:"shuffleLinks,omitempty"`

	TraceSize int `json:"traceSize,omitempty"`
}

type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	traceStore      *TraceStore
	sim             *simulation.Simulation
	transportServer *simnet.TransportServer
	apiServer       *APIServer
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)

	v.CheckObject("simnet", &cfg.Simnet)
}

func (cfg *SimnetCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckStringNotEmpty("apiAddress", cfg.APIAddress)

	v.Check("protocol", cfg.Protocol.Valid(), "invalid_protocol",
		"invalid protocol %q", cfg.Protocol)

	v.Check("mode", cfg.Mode.Valid(), "invalid_mode",
		"invalid mode %q", cfg.Mode)

	if cfg.Protocol == simulation.ProtocolElection {
		v.Check("mode", cfg.Mode == simnet.ModeRounds, "invalid_mode",
			"protocol %q requires %q mode", cfg.Protocol, simnet.ModeRounds)
	}

	v.Check("processes", cfg.Processes >= 0, "invalid_value",
		"number of processes must be positive")

	if cfg.DispatchPolicy != "" {
		v.Check("dispatchPolicy", cfg.DispatchPolicy.Valid(),
			"invalid_dispatch_policy", "invalid dispatch policy %q",
			cfg.DispatchPolicy)
	}

	if cfg.AutoDispatch {
		v.Check("autoDispatch", cfg.Mode == simnet.ModeAsync, "invalid_mode",
			"automatic dispatch requires %q mode", simnet.ModeAsync)
	}

	if cfg.AutoAdvance {
		v.Check("autoAdvance", cfg.Mode == simnet.ModeRounds, "invalid_mode",
			"automatic rounds require %q mode", simnet.ModeRounds)
	}

	v.Check("dispatchInterval", cfg.DispatchInterval >= 0, "invalid_value",
		"interval must be positive")
	v.Check("roundInterval", cfg.RoundInterval >= 0, "invalid_value",
		"interval must be positive")
	v.Check("traceSize", cfg.TraceSize >= 0, "invalid_value",
		"trace size must be positive")
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p
}

func (s *Service) DefaultCfg() interface{} {
	s.Cfg.Simnet = SimnetCfg{
		APIAddress: "localhost:8081",

		Protocol: simulation.ProtocolCausal,
		Mode:     simnet.ModeAsync,

		TraceSize: 1000,
	}

	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	return nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	cfg := &s.Cfg.Service

	if cfg.HTTPServers == nil {
		cfg.HTTPServers = make(map[string]*shttp.ServerCfg)
	}

	cfg.HTTPServers["api"] = &shttp.ServerCfg{
		Address:               s.Cfg.Simnet.APIAddress,
		LogSuccessfulRequests: true,
		ErrorHandler:          shttp.JSONErrorHandler,
	}

	return cfg
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	s.traceStore = NewTraceStore(s.Cfg.Simnet.TraceSize)

	if err := s.initSimulation(); err != nil {
		return err
	}

	if s.Cfg.Simnet.TransportAddress != "" {
		s.initTransportServer()
	}

	if err := s.initAPIServer(); err != nil {
		return err
	}

	return nil
}

func (s *Service) initSimulation() error {
	cfg := s.Cfg.Simnet

	logger := s.Log.Child("simnet", log.Data{
		"protocol": string(cfg.Protocol),
		"mode":     string(cfg.Mode),
	})

	simCfg := simulation.Cfg{
		Logger: logger,

		Protocol: cfg.Protocol,
		Mode:     cfg.Mode,
		Seed:     cfg.Seed,

		AutoDispatch:     cfg.AutoDispatch,
		DispatchInterval: time.Duration(cfg.DispatchInterval) * time.Millisecond,
		DispatchPolicy:   cfg.DispatchPolicy,

		AutoAdvance:   cfg.AutoAdvance,
		RoundInterval: time.Duration(cfg.RoundInterval) * time.Millisecond,

		ShuffleLinks: cfg.ShuffleLinks,

		OnDelivery: s.traceStore.Add,
	}

	sim, err := simulation.New(simCfg)
	if err != nil {
		return fmt.Errorf("cannot create simulation: %w", err)
	}

	s.sim = sim

	if cfg.Processes > 0 {
		if _, err := sim.Populate(cfg.Processes); err != nil {
			return fmt.Errorf("cannot populate network: %w", err)
		}
	}

	return nil
}

func (s *Service) initTransportServer() {
	logger := s.Log.Child("transport", log.Data{
		"address": s.Cfg.Simnet.TransportAddress,
	})

	s.transportServer = &simnet.TransportServer{
		Log: logger,

		Address: s.Cfg.Simnet.TransportAddress,
		Handler: &simnet.RouterHandler{
			Log:    logger,
			Router: s.sim.Router,
		},
	}
}

func (s *Service) initAPIServer() error {
	api, err := NewAPIServer(s)
	if err != nil {
		return fmt.Errorf("cannot create api server: %w", err)
	}

	s.apiServer = api

	return nil
}

func (s *Service) Start(ss *service.Service) error {
	if s.transportServer != nil {
		if err := s.transportServer.Start(ss.ErrorChan()); err != nil {
			return fmt.Errorf("cannot start transport server: %w", err)
		}
	}

	if err := s.sim.Start(ss.ErrorChan()); err != nil {
		return fmt.Errorf("cannot start simulation: %w", err)
	}

	if err := s.apiServer.Init(); err != nil {
		return fmt.Errorf("cannot initialize api server: %w", err)
	}

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	s.sim.Stop()

	if s.transportServer != nil {
		s.transportServer.Stop()
	}
}

func (s *Service) Terminate(ss *service.Service) {
}

func (s *Service) simLogger(name string) *log.Logger {
	return s.Log.Child(name, log.Data{})
}
