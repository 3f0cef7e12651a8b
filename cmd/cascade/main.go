package main

import (
	"fmt"
	"os"
)

const usage = `usage: cascade <command> [flags]

commands:
  serve              run the command poller, the MCP server on stdio and
                     optionally the HTTP panel (-panel)
  install            write ~/.cascade/settings.json
  define <file>      register a definition document
  start <id>         start an instance of a definition
  process <wf-id>    run one processing cycle
  diagram <id>       render a definition or instance
  version            print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		runServe(args)
	case "install":
		runInstall(args)
	case "define":
		runDefine(args)
	case "start":
		runStart(args)
	case "process":
		runProcess(args)
	case "diagram":
		runDiagram(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", a...)
	os.Exit(1)
}
