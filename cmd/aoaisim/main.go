// aoaisim - Simulated Azure OpenAI API endpoint for load and integration testing
package main

import "github.com/bart-jansen/aoai-simulated-api/pkg/cli"

func main() {
	cli.Execute()
}
