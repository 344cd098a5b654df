package main

import (
	"github.com/galdor/go-program"
)

func main() {
	p := program.NewProgram("simctl",
		"run simulated message-passing networks")

	p.AddFlag("v", "verbose", "print debug messages")

	c := p.AddCommand("scenarios", "list builtin scenarios", cmdScenarios)

	c = p.AddCommand("run", "run a builtin scenario", cmdRun)
	c.AddArgument("name", "the name of the scenario")
	c.AddOption("s", "seed", "seed", "0", "the seed of the dispatch generator")

	c = p.AddCommand("script", "run a yaml scenario script", cmdScript)
	c.AddArgument("path", "the path of the script file")
	c.AddOption("s", "seed", "seed", "0", "the seed of the dispatch generator")

	c = p.AddCommand("elect", "run a leader election", cmdElect)
	c.AddOption("n", "processes", "count", "8", "the number of processes")
	c.AddOption("c", "candidates", "ids", "",
		"a comma-separated list of candidates (default: every other process)")
	c.AddFlag("", "shuffle", "contact links in a random order")

	c = p.AddCommand("host", "host a process for a remote simnet daemon",
		cmdHost)
	c.AddOption("", "api", "address", "localhost:8081",
		"the address of the daemon api")
	c.AddOption("", "router", "address", "localhost:8082",
		"the address of the daemon transport server")
	c.AddOption("l", "listen", "address", "localhost:8090",
		"the address to listen on")
	c.AddOption("p", "protocol", "protocol", "causal",
		"the protocol of the process (echo or causal)")
	c.AddOption("i", "id", "id", "0",
		"the process id (default: allocated by the daemon)")

	p.ParseCommandLine()
	p.Run()
}

func newLogger(p *program.Program) *Logger {
	debugLevel := 0
	if p.IsOptionSet("verbose") {
		debugLevel = 2
	}

	return NewLogger(debugLevel)
}
