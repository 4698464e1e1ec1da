package pipeline

import (
	"fmt"
	"strings"

	"kw-listing/internal/keywords"
)

const filterSystemPrompt = `You clean keyword lists for Amazon product listings.
Remove a keyword when:
1. It is a misspelling and the correctly spelled form is also in the list.
2. It is a plural form and the singular form is also in the list.
3. It is not English (transliterated or foreign-language terms).
Keep every other keyword exactly as written.
Return JSON: {"keywords": ["kept keyword", ...]}`

const classifySystemPrompt = `You are an Amazon keyword analyst.
Classify every keyword by its relevance to the product:
- Direct: describes the product itself; a shopper searching it wants exactly this product.
- Related: closely associated attributes, use cases or complementary terms.
- Indirect: broader audience, scenes or occasions where the product could appear.
- NotRelated: no meaningful relation to the product.
Classify every keyword exactly once and copy the keyword text unchanged.
Return JSON: {"classifications": [{"keyword": "...", "relevance_category": "Direct|Related|Indirect|NotRelated"}]}`

const distributeSystemPrompt = `You assign keywords to the sections of an Amazon listing.
Rules:
1. Title: mainly Direct keywords, at most %d keywords, minimal Related support.
2. Bullet points: Direct keywords lead each point, Related keywords support, Indirect only for usage scenes.
3. Description: mostly Related keywords (about 20), Direct keywords repeated for reinforcement, Indirect for long-tail discovery.
4. Keywords containing a brand name, an ASIN, or three or more words go to leftover.
5. Every keyword goes to exactly one section. Use only keywords from the list.
Return JSON: {"title_keyword": [], "bp_keyword": [], "description_keyword": [], "leftover": []}`

const summarizeSystemPrompt = `You condense product documentation into a factual product information sheet.
Keep specifications, materials, dimensions, compatibility, package contents, certifications and usage notes.
Drop marketing language. Never invent facts. Answer in English plain text.`

const verifySystemPrompt = `You are a fact checker for Amazon listings.
Cross-verify the content against the Factual Product Information.
Correct any claim that contradicts or is not supported by the information, keeping style, length and keywords otherwise unchanged.
If everything is accurate, return the content unchanged.
Return JSON: {"content": "..."}`

const feedbackSystemPrompt = `You split user feedback on an Amazon listing into per-section instructions.
Sections: title, bullet points (bp), description.
Copy the instruction for each section the feedback mentions. Use an empty string for sections it does not mention.
Return JSON: {"title_feedback": "", "bp_feedback": "", "description_feedback": ""}`

func productBlock(p Product) string {
	var b strings.Builder
	b.WriteString("[Product Name]\n")
	b.WriteString(p.Name)
	b.WriteString("\n")
	if strings.TrimSpace(p.Category) != "" {
		b.WriteString("\n[Category]\n")
		b.WriteString(p.Category)
		b.WriteString("\n")
	}
	if strings.TrimSpace(p.Information) != "" {
		b.WriteString("\n[Product Information]\n")
		b.WriteString(p.Information)
		b.WriteString("\n")
	}
	return b.String()
}

func keywordLines(kws []string) string {
	var b strings.Builder
	for _, kw := range kws {
		b.WriteString("- ")
		b.WriteString(kw)
		b.WriteString("\n")
	}
	return b.String()
}

func recordTable(records []keywords.Record) string {
	var b strings.Builder
	b.WriteString("keyword | relevance | value_score\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%s | %s | %.4f\n", r.Keyword, relevanceLabel(r.Relevance), r.ValueScore)
	}
	return b.String()
}

func relevanceLabel(r keywords.Relevance) string {
	if r == keywords.Unclassified {
		return "Unclassified"
	}
	return string(r)
}

func filterPrompt(p Product, kws []string) Prompt {
	return Prompt{
		Task:   taskFilter,
		System: filterSystemPrompt,
		User:   productBlock(Product{Name: p.Name, Category: p.Category}) + "\n[Keywords]\n" + keywordLines(kws),
	}
}

func classifyPrompt(p Product, kws []string) Prompt {
	return Prompt{
		Task:   taskClassify,
		System: classifySystemPrompt,
		User:   productBlock(p) + "\n[Keywords]\n" + keywordLines(kws),
	}
}

type tierTargets struct {
	Direct, Related, Indirect int
}

func selectPrompt(p Product, records []keywords.Record, n int, t tierTargets, lastIssues string) Prompt {
	system := fmt.Sprintf(`You build a keyword portfolio for an Amazon listing.
Select exactly %d keywords from the table as a tiered portfolio:
1. About %d Direct keywords, highest value_score first.
2. About %d Related keywords, highest value_score first.
3. About %d Indirect keywords, favoring unusually high value_score (hidden gems).
If a tier has too few keywords, fill from the next tier. Never invent keywords.
Return JSON: {"selected": ["keyword", ...]}`, n, t.Direct, t.Related, t.Indirect)
	user := productBlock(p) + "\n[Keyword Table]\n" + recordTable(records)
	if lastIssues != "" {
		user += "\n[Problems in your previous answer, fix all of them]\n" + lastIssues + "\n"
	}
	return Prompt{Task: taskSelect, System: system, User: user}
}

func distributePrompt(p Product, records []keywords.Record, titleCap int) Prompt {
	return Prompt{
		Task:   taskDistribute,
		System: fmt.Sprintf(distributeSystemPrompt, titleCap),
		User:   productBlock(p) + "\n[Keyword Table]\n" + recordTable(records),
	}
}

// Revision asks for an edit of an existing field value instead of a fresh draft.
type Revision struct {
	Feedback string
	Current  string
}

func withRevision(base Prompt, field Field, rev *Revision) Prompt {
	if rev == nil {
		return base
	}
	base.Task = taskRegenPrefix + base.Task
	base.User = "[User Feedback]\n" + rev.Feedback + "\nYou are required to take this into consideration.\n\n" +
		base.User + "\n[Current " + fieldLabel(field) + "]\n" + rev.Current + "\n"
	return base
}

func fieldLabel(f Field) string {
	switch f {
	case FieldTitle:
		return "Title"
	case FieldBullets:
		return "Bullet Points"
	default:
		return "Description"
	}
}

func titlePrompt(p Product, kws []string, maxChars int) Prompt {
	return Prompt{
		Task: taskTitle,
		System: fmt.Sprintf(`You write Amazon product titles.
1. One line, at most %d characters.
2. Start with the most important keywords, use every title keyword naturally.
3. No promotional claims, no emojis, no all-caps words.
Return JSON: {"title": "..."}`, maxChars),
		User: productBlock(p) + "\n[Title Keywords]\n" + keywordLines(kws),
	}
}

func bulletsPrompt(p Product, kws []string, minItems, maxItems, minChars, maxChars int) Prompt {
	return Prompt{
		Task: taskBullets,
		System: fmt.Sprintf(`You write Amazon bullet points.
1. Write %d to %d bullet points, each %d to %d characters.
2. Lead each point with a Direct keyword and a short capitalized benefit header.
3. Use Related keywords as support and Indirect keywords only to set a usage scene.
4. No numbering, no leading symbols.
Return JSON: {"bullet_points": ["...", ...]}`, minItems, maxItems, minChars, maxChars),
		User: productBlock(p) + "\n[Bullet Point Keywords]\n" + keywordLines(kws),
	}
}

func descriptionPrompt(p Product, kws []string, bullets []string, maxChars int) Prompt {
	user := productBlock(p) + "\n[Description Keywords]\n" + keywordLines(kws)
	if len(bullets) > 0 {
		user += "\n[Bullet Points Already Written, do not repeat them]\n"
		for i, bp := range bullets {
			user += fmt.Sprintf("%d. %s\n", i+1, bp)
		}
	}
	return Prompt{
		Task: taskDescription,
		System: fmt.Sprintf(`You write Amazon product descriptions.
1. At most %d characters of plain text.
2. Complement the bullet points with new detail instead of repeating them.
3. Use the description keywords naturally.
Return JSON: {"description": "..."}`, maxChars),
		User: user,
	}
}

func summarizePrompt(p Product, texts []string) Prompt {
	return Prompt{
		Task:   taskSummarize,
		System: summarizeSystemPrompt,
		User:   "[Product Name]\n" + p.Name + "\n\n[Documentation]\n" + strings.Join(texts, "\n\n---\n\n"),
	}
}

func verifyPrompt(task, info, kind, content string) Prompt {
	return Prompt{
		Task:   task,
		System: verifySystemPrompt,
		User:   "[Factual Product Information]\n" + info + "\n\n[Content to Verify - " + kind + "]\n" + content,
	}
}

func feedbackPrompt(raw string, d ListingDraft) Prompt {
	var b strings.Builder
	b.WriteString("[Current Title]\n")
	b.WriteString(d.Title)
	b.WriteString("\n\n[Current Bullet Points]\n")
	for i, bp := range d.BulletPoints {
		fmt.Fprintf(&b, "%d. %s\n", i+1, bp)
	}
	b.WriteString("\n[Current Description]\n")
	b.WriteString(d.Description)
	b.WriteString("\n\n[User Feedback]\n")
	b.WriteString(raw)
	return Prompt{Task: taskFeedbackParse, System: feedbackSystemPrompt, User: b.String()}
}
