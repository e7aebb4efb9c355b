package clipper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"plotform-planner/internal/llm"

	"github.com/PuerkitoBio/goquery"
)

const maxPageContentLen = 12000

// Clipper turns a reference web page into a planning idea.
type Clipper struct {
	textGen llm.TextGenerator
}

// Idea is the distilled planning idea extracted from a page.
type Idea struct {
	Title string `json:"title"`
	Text  string `json:"idea"`
}

// NewClipper creates a new Clipper instance.
func NewClipper(textGen llm.TextGenerator) *Clipper {
	return &Clipper{textGen: textGen}
}

// ExtractIdea fetches the URL, strips page noise, and distills the content
// into a short free-text idea suitable as pipeline input.
func (c *Clipper) ExtractIdea(ctx context.Context, url string) (*Idea, error) {
	content, err := c.fetchAndCleanHTML(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}
	if len(content) > maxPageContentLen {
		content = content[:maxPageContentLen]
	}

	prompt := fmt.Sprintf(`
You are a content strategist. The following is the text of a web page a creator wants
to build episodic content around. Distill it into a production idea.

Return the result strictly as a JSON object with this structure:
{
  "title": "A short working title",
  "idea": "Two to four sentences describing the content idea, its audience and angle"
}

Do not include any other text or formatting in your response.

Page content:
%s
`, content)

	resp, err := c.textGen.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("ai extraction failed: %w", err)
	}

	var idea Idea
	if err := parseIdeaResponse(resp.Content, &idea); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w. Response: %s", err, resp.Content)
	}
	if idea.Text == "" {
		return nil, fmt.Errorf("extraction produced an empty idea")
	}

	return &idea, nil
}

func parseIdeaResponse(response string, target *Idea) error {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return json.Unmarshal([]byte(strings.TrimSpace(response)), target)
}

func (c *Clipper) fetchAndCleanHTML(url string) (string, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	// Remove noise to save LLM tokens
	doc.Find("script, style, nav, footer, iframe, ads, .ads, #ads").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Find("body").Text(), nil
}
