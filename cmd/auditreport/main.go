// Command auditreport produces the daily admin panel audit trail report.
package main

import "github.com/aburke/highgarden/internal/cli"

func main() {
	cli.Execute()
}
