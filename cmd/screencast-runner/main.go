// Command screencast-runner records browser flows as videos and GIFs.
package main

import "github.com/devicelab-dev/screencast-runner/pkg/cli"

func main() {
	cli.Execute()
}
