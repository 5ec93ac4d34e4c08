// Package generate implements the simulator's generate-mode producers.
//
// Three generators cover the simulated surfaces, tried in the order the CLI
// wires them: config-driven custom rules, the Azure OpenAI deployment routes
// and the Document Intelligence routes. Each implements simulator.Generator
// and claims a request by returning a non-nil response; unrecognized
// requests fall through to the next generator.
package generate
