package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/galdor/go-program"
	"github.com/galdor/go-simnet/pkg/simnet"
	"github.com/galdor/go-simnet/pkg/simulation"
	"github.com/pterm/pterm"
)

func cmdScenarios(p *program.Program) {
	data := pterm.TableData{{"Name", "Description"}}

	for _, scenario := range simulation.Scenarios() {
		data = append(data, []string{
			scenario.ScenarioName(),
			scenario.ScenarioDescription(),
		})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		p.Fatal("cannot render table: %v", err)
	}
}

func cmdRun(p *program.Program) {
	name := p.ArgumentValue("name")

	scenario, err := simulation.FindScenario(name)
	if err != nil {
		p.Fatal("%v", err)
	}

	runScenario(p, scenario)
}

func cmdScript(p *program.Program) {
	filePath := p.ArgumentValue("path")

	script, err := simulation.LoadScriptFile(filePath)
	if err != nil {
		p.Fatal("%v", err)
	}

	runScenario(p, script)
}

func runScenario(p *program.Program, scenario simulation.Scenario) {
	seed, err := strconv.ParseInt(p.OptionValue("seed"), 10, 64)
	if err != nil {
		p.Fatal("invalid seed: %v", err)
	}

	cfg := simulation.Cfg{
		Logger: newLogger(p),
		Seed:   seed,
	}

	pterm.DefaultSection.Println(scenario.ScenarioName())

	result, err := scenario.Run(context.Background(), cfg)

	var expectationErr *simulation.ExpectationError
	if err != nil && !errors.As(err, &expectationErr) {
		p.Fatal("cannot run scenario: %v", err)
	}

	if err := renderResult(result); err != nil {
		p.Fatal("cannot render result: %v", err)
	}

	if expectationErr != nil {
		for _, difference := range expectationErr.Differences {
			pterm.Error.Println(difference)
		}

		p.Fatal("scenario %s failed", scenario.ScenarioName())
	}

	pterm.Success.Printfln("scenario %s completed in %v",
		scenario.ScenarioName(), result.Duration)
}

func cmdElect(p *program.Program) {
	n, err := strconv.Atoi(p.OptionValue("processes"))
	if err != nil || n < 1 {
		p.Fatal("invalid number of processes %q", p.OptionValue("processes"))
	}

	candidates, err := parseCandidates(p.OptionValue("candidates"), n)
	if err != nil {
		p.Fatal("invalid candidates: %v", err)
	}

	cfg := simulation.Cfg{
		Logger:       newLogger(p),
		Protocol:     simulation.ProtocolElection,
		ShuffleLinks: p.IsOptionSet("shuffle"),
	}

	sim, err := simulation.New(cfg)
	if err != nil {
		p.Fatal("cannot create simulation: %v", err)
	}

	if _, err := sim.Populate(n); err != nil {
		p.Fatal("cannot populate network: %v", err)
	}

	for _, id := range candidates {
		if err := sim.StartCandidate(id); err != nil {
			p.Fatal("cannot start candidacy of process %d: %v", id, err)
		}
	}

	result, err := sim.RunElection(context.Background(),
		simulation.DefaultMaxElectionRounds)
	if err != nil {
		p.Fatal("%v", err)
	}

	if err := renderElection(result); err != nil {
		p.Fatal("cannot render result: %v", err)
	}

	pterm.Success.Printfln("process %d elected after %d rounds",
		result.Leader, result.Rounds)
}

func parseCandidates(s string, n int) ([]simnet.ProcessId, error) {
	var ids []simnet.ProcessId

	if s == "" {
		for i := 2; i <= n; i += 2 {
			ids = append(ids, simnet.ProcessId(i))
		}

		if len(ids) == 0 {
			ids = append(ids, 1)
		}

		return ids, nil
	}

	for _, part := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid process id %q", part)
		}

		if i < 1 || i > n {
			return nil, fmt.Errorf("process id %d out of range", i)
		}

		ids = append(ids, simnet.ProcessId(i))
	}

	return ids, nil
}
