package ai

import (
	"fmt"

	"github.com/quillnotes/quill/pkg/models"
)

const (
	generateSystem = "You are a helpful note-taking assistant. Generate well-structured, clear notes based on the user's prompt. Format the response with proper markdown."
	textSystem     = "You are a helpful text processing assistant. Provide clear, concise responses."
)

// BuildGeneratePrompt produces the request for generating a note body from
// a free-form prompt
func BuildGeneratePrompt(prompt string, maxTokens int) CompletionRequest {
	return CompletionRequest{
		System:      generateSystem,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	}
}

// BuildTextPrompt produces the request for the text-processing features.
// Each feature wraps the user's text in its instruction template.
func BuildTextPrompt(feature models.Feature, text string, maxTokens int) (CompletionRequest, error) {
	var instruction string

	switch feature {
	case models.FeatureEnhance:
		instruction = "Improve the clarity, grammar, and structure of the following text while preserving the original meaning:"
	case models.FeatureQuestion:
		instruction = "Answer questions about the following text. The user may ask follow-up questions:"
	case models.FeatureExtract:
		instruction = "Extract the key points and create a summary of the following text:"
	default:
		return CompletionRequest{}, fmt.Errorf("unsupported text feature: %s", feature)
	}

	return CompletionRequest{
		System:      textSystem,
		Prompt:      fmt.Sprintf("%s\n\n%s", instruction, text),
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	}, nil
}

// BuildSuggestPrompt produces the request for content suggestions. The
// provider is instructed to reply with a JSON array of suggestions.
func BuildSuggestPrompt(content, contentType string, maxTokens int) CompletionRequest {
	instruction := `Suggest 1-3 ways to improve this. Respond ONLY with JSON: [{"title":"...","description":"..."}]`
	if contentType == "todo" {
		instruction = `Suggest 1-3 todo items to help with this. Respond ONLY with JSON: [{"title":"...","description":"..."}]`
	}

	return CompletionRequest{
		Prompt:      fmt.Sprintf("%s\n\nContent: %q", instruction, content),
		MaxTokens:   maxTokens,
		Temperature: 0.5,
	}
}
