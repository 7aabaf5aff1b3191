// Package ai extracts listings from page markup with the Gemini API.
package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const systemInstruction = `You extract classified ads from HTML listing pages.
Return only ads that are visible in the provided markup. Never invent ads.
Skip sponsored, promoted or advertising blocks.
For every ad return its link exactly as it appears in the href attribute,
its title, price, description, publication time text ("date"), location and
photo URL. Use an empty string for any field that is not present.`

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini asks a Gemini model to extract listings from a markup excerpt.
type Gemini struct {
	models generator
	model  string
}

// NewGemini creates a Gemini client for the given API key and model name.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{models: client.Models, model: model}, nil
}

// ExtractListings sends the excerpt and query to the model and returns its
// raw text response, expected to be a JSON array of ads.
func (g *Gemini) ExtractListings(ctx context.Context, excerpt, query string) (string, error) {
	prompt := fmt.Sprintf("%s\n\nHTML:\n---\n%s", query, excerpt)

	contents := []*genai.Content{
		{
			Parts: []*genai.Part{{Text: prompt}},
			Role:  "user",
		},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   listingSchema(),
	})
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	if resp == nil {
		return "", errors.New("gemini returned no response")
	}
	return resp.Text(), nil
}

func listingSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"url":         str("Link to the ad, as found in the href attribute."),
				"title":       str("Ad title."),
				"price":       str("Price text, including currency."),
				"description": str("Short description."),
				"date":        str("Publication time text, e.g. 'hace 5 segundos'."),
				"location":    str("Province or municipality."),
				"photo":       str("URL of the first photo."),
			},
			Required: []string{"url", "title"},
		},
	}
}
