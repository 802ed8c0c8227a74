// Package prompts contains all LLM prompt templates used internally by Thane.
//
// Prompt text is Go code rather than config files because it is program logic:
// it is embedded at compile time and can be validated by tests. User-facing
// configuration lives in config.yaml; this package holds the default system
// prompt and the messages the agent loop sends to the model.
//
// Each prompt category gets its own file: system.go holds the default system
// prompt, returned by BaseSystemPrompt, and agent.go holds the agent loop's
// messages as exported constants.
package prompts
