package mcpserver

// DocumentFormatContract describes the canonical Markdown document format
// that LLM consumers should follow when creating or updating documents.
const DocumentFormatContract = `# Memory Bank Document Format Contract

Every Markdown document stored in the memory bank SHOULD follow this structure.

## Structure

` + "```" + `markdown
---
title: Human-readable title        # OPTIONAL but recommended – used in search and stats
type: core                          # OPTIONAL – document category; inferred from the
                                    #            first path segment when omitted
description: One-line summary       # OPTIONAL – shown in search results
tags:                               # OPTIONAL – YAML list; used for filtering
  - tag-one
  - tag-two
created: 2025-01-15                 # OPTIONAL – ISO-8601 date or datetime
updated: 2025-01-20                 # OPTIONAL – overrides the file modification time
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **Frontmatter is optional.** A document without a frontmatter block is
   indexed from its path and first heading alone.
2. **When present, the ` + "```" + `---` + "```" + ` fences must be the first thing in the
   file** (no leading blank lines) and the block must be valid YAML. A
   malformed block makes the document fail indexing.
3. **Tags** are lowercase, kebab-case (e.g. ` + "`" + `project-x` + "`" + `, ` + "`" + `meeting-notes` + "`" + `).
4. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes. Paths are
   relative to the bank root; ` + "`" + `..` + "`" + ` segments are rejected.
5. **Types** map to JSON schemas when a schema directory is configured: a
   document of type ` + "`" + `T` + "`" + ` is validated against ` + "`" + `T.json` + "`" + `.
6. **Encoding** is UTF-8 with a trailing newline.

## Example

` + "```" + `markdown
---
title: Project brief
type: core
description: What we are building and why
tags:
  - project-x
created: 2025-01-20
---

# Project brief

The goal of this project is...
` + "```" + `
`
