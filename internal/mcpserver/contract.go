package mcpserver

// NamingTemplateGuide describes the file naming template that the
// preferences file accepts.
const NamingTemplateGuide = `# xhsdl Naming Template

File names are rendered from the template in the preferences file when
` + "`" + `enabled: true` + "`" + `. Otherwise the note id (or title, or author) is used.

## Tokens

| Token | Value |
|---|---|
| ` + "`" + `{username}` + "`" + ` | author nickname |
| ` + "`" + `{userId}` + "`" + ` | author id |
| ` + "`" + `{title}` + "`" + ` | note title |
| ` + "`" + `{postId}` + "`" + ` | note id |
| ` + "`" + `{publishTime}` + "`" + ` | publish date as yy-MM-dd |
| ` + "`" + `{index}` + "`" + ` | 1-based position in the note |
| ` + "`" + `{index_padded}` + "`" + ` | position, two digits |
| ` + "`" + `{downloadTimestamp}` + "`" + ` | run start, Unix seconds |

Unknown tokens render empty.

## Rules

1. Characters illegal in file names (` + "`" + `\ / : * ? " < > |` + "`" + `) become ` + "`" + `_` + "`" + `.
2. Whitespace runs become a single ` + "`" + `_` + "`" + `; leading and trailing ` + "`" + `_` + "`" + ` are trimmed.
3. Names are capped at 120 characters.
4. Every name ends with ` + "`" + `_NN` + "`" + `, the item's two-digit position, so items of one note never collide.

## Example

` + "```" + `yaml
enabled: true
template: "{title}_{publishTime}_{downloadTimestamp}"
` + "```" + `
`
