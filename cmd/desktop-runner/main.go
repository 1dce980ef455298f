// Command desktop-runner runs UAT test definitions against desktop applications.
package main

import "github.com/devicelab-dev/desktop-runner/pkg/cli"

func main() {
	cli.Execute()
}
