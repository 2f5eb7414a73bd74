package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/target/ticket-enhancer/internal/domain/model"
)

// systemPrompt frames every synthesis call. Prompt wording is tuned per deployment
// through the model choice, not here.
const systemPrompt = "You are a support analyst. Using the ticket and the context sections, " +
	"write a concise enhancement for the agent who will handle this ticket: a short summary, " +
	"relevant history, suggested next steps, and any risks. If a context section is marked " +
	"unavailable, do not guess its contents."

// sectionSeparator joins prompt sections.
const sectionSeparator = "\n\n"

// truncationReserve is the room kept for the truncation marker in a cut section.
const truncationReserve = 32

// Prompt is the bounded input for one synthesis call.
type Prompt struct {
	System string
	User   string
	// Truncated is true when at least one section was cut to fit the budget.
	Truncated bool
}

type promptSection struct {
	text string
}

// BuildPrompt renders the ticket and every bundle entry into a deterministic prompt.
//
// Sections appear as: the ticket, then sources in sorted name order. Unavailable
// sources are listed with their reason. When the total exceeds maxBytes, the budget
// is split so short sections stay whole and the rest share what remains equally;
// cut sections end on a UTF-8 boundary followed by a "[truncated N bytes]" marker.
// maxBytes <= 0 disables truncation.
func BuildPrompt(ticket model.Ticket, bundle model.ContextBundle, maxBytes int) Prompt {
	sections := []promptSection{{text: renderTicket(ticket)}}
	for _, name := range bundle.Names() {
		sections = append(sections, promptSection{text: renderSource(name, bundle[name])})
	}

	truncated := false
	if maxBytes > 0 {
		truncated = fitSections(sections, maxBytes-len(sectionSeparator)*(len(sections)-1))
	}

	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.text
	}
	return Prompt{
		System:    systemPrompt,
		User:      strings.Join(parts, sectionSeparator),
		Truncated: truncated,
	}
}

func renderTicket(t model.Ticket) string {
	var b strings.Builder
	b.WriteString("## Ticket\n")
	fmt.Fprintf(&b, "ID: %s\n", t.ID)
	if t.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", t.Subject)
	}
	if t.Requester != "" {
		fmt.Fprintf(&b, "Requester: %s\n", t.Requester)
	}
	if t.Description != "" {
		b.WriteString("\nDescription:\n")
		b.WriteString(t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSource(name string, r model.SourceResult) string {
	header := "## Context: " + name + "\n"
	if !r.Available {
		reason := r.Reason
		if reason == "" {
			reason = model.ReasonError
		}
		return header + "unavailable (" + reason + ")"
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, r.Data); err != nil {
		return header + string(r.Data)
	}
	return header + compact.String()
}

// fitSections cuts sections in place so their combined length is at most budget.
// Sections are visited shortest first: each gets an equal share of what remains,
// and anything a short section does not use is passed on to the longer ones.
func fitSections(sections []promptSection, budget int) bool {
	total := 0
	for _, s := range sections {
		total += len(s.text)
	}
	if total <= budget {
		return false
	}
	if budget < 0 {
		budget = 0
	}

	order := make([]int, len(sections))
	for i := range order {
		order[i] = i
	}
	// Stable on index so equal lengths resolve the same way every time.
	sort.SliceStable(order, func(a, b int) bool {
		return len(sections[order[a]].text) < len(sections[order[b]].text)
	})

	remaining := budget
	truncated := false
	for n, idx := range order {
		share := remaining / (len(order) - n)
		text := sections[idx].text
		if len(text) <= share {
			remaining -= len(text)
			continue
		}
		sections[idx].text = truncateSection(text, share)
		remaining -= len(sections[idx].text)
		truncated = true
	}
	return truncated
}

// truncateSection keeps at most limit bytes of s including the marker.
func truncateSection(s string, limit int) string {
	keep := limit - truncationReserve
	if keep < 0 {
		keep = 0
	}
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	out := s[:keep] + fmt.Sprintf("\n[truncated %d bytes]", len(s)-keep)
	if len(out) > limit {
		// The budget is smaller than the marker itself.
		return ""
	}
	return out
}
