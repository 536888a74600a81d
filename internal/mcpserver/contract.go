package mcpserver

// PageFormatContract describes the canonical Markdown page format that
// LLM consumers should follow when creating or updating pages.
const PageFormatContract = `# Ansuz Page Format Contract

Every Markdown page stored in Ansuz SHOULD follow this structure.

## Structure

` + "```" + `markdown
---
title: Human-readable title        # OPTIONAL – falls back to the first H1
tags:                               # OPTIONAL – YAML list; merged with @tags
  - tag-one
  - tag-two
---

Body text in standard Markdown.

Use [[wikilinks]] to reference other pages by name.
Use [[Target|alias]] for display text that differs from the target.
Use @tags inline to label the page.
` + "```" + `

## Page names

1. Page names are **colon-separated** and mirror the notebook folder tree:
   the file ` + "`" + `Projects/Ansuz.md` + "`" + ` is the page ` + "`" + `Projects:Ansuz` + "`" + `.
2. A link target starting with ` + "`" + `:` + "`" + ` is absolute from the notebook root
   (` + "`" + `[[:Journal:2026]]` + "`" + `).
3. A target with an inner colon is relative to the linking page's namespace
   (` + "`" + `[[Ansuz:Notes]]` + "`" + ` inside ` + "`" + `Projects` + "`" + ` resolves to ` + "`" + `Projects:Ansuz:Notes` + "`" + `).
4. A bare name floats: the nearest enclosing namespace that already has a page
   of that name wins (` + "`" + `[[Roadmap]]` + "`" + `).

## Rules

1. **Frontmatter is optional.** When present, the ` + "```" + `---` + "```" + ` fences must be the
   first thing in the file.
2. **Tags** are lowercase, kebab-case (e.g. ` + "`" + `project-x` + "`" + `, ` + "`" + `meeting-notes` + "`" + `).
   Inline ` + "`" + `@tag` + "`" + ` markers and the frontmatter ` + "`" + `tags` + "`" + ` list are merged.
3. **Linking to a page that does not exist yet is fine** — the index records it
   as a placeholder and promotes it when the page gets content.
4. **Encoding** is UTF-8 with a trailing newline.
5. **No HTML** unless absolutely necessary; prefer Markdown equivalents.

## Example

` + "```" + `markdown
---
title: Weekly standup 2026-08-24
tags:
  - meeting-notes
---

# Weekly standup 2026-08-24

Attendees: Alice, Bob. @project-x

## Action items

- [[People:Alice]] to review the [[design-doc]]
- Bob to update [[Projects:Roadmap|the roadmap]]
` + "```" + `
`
