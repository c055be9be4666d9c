// Package llm implements the script capability on top of an OpenAI-compatible
// chat completion endpoint such as OpenRouter.
//
// The client makes exactly one HTTP request per call and classifies the
// outcome into services.Error kinds; retrying and falling back to another
// provider are left to the stage's retry policy and fallback chain.
package llm
