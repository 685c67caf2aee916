package app

import (
	"fmt"
	"os"
)

var (
	version   = "0.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func Main(args []string) int {
	if len(args) < 2 {
		printHelp()
		return 2
	}

	switch args[1] {
	case "run":
		return run()
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[1])
		printHelp()
		return 2
	}
}

func printHelp() {
	fmt.Fprintln(os.Stdout, "beanbridge")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Usage:")
	fmt.Fprintln(os.Stdout, "  beanbridge run --config ./beanbridge.yaml [--pid-file ./beanbridge.pid] [--log-level info] [--dotenv ./.env]")
	fmt.Fprintln(os.Stdout, "  beanbridge version [--long] [--json]")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "beanbridge exposes the process's management beans over JSON/HTTP:")
	fmt.Fprintln(os.Stdout, "  GET  <context>/read/<mbean>/<attribute>/<path...>")
	fmt.Fprintln(os.Stdout, "  GET  <context>/write/<mbean>/<attribute>/<value>")
	fmt.Fprintln(os.Stdout, "  GET  <context>/exec/<mbean>/<operation>/<args...>")
	fmt.Fprintln(os.Stdout, "  GET  <context>/search/<pattern> | list/<path...> | version")
	fmt.Fprintln(os.Stdout, "  POST <context>  (single request object or bulk array)")
}
