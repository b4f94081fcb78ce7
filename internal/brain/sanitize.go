package brain

import "regexp"

// htmlCommentPattern matches HTML comments, which could otherwise forge the
// plan block embedded in milestone descriptions.
var htmlCommentPattern = regexp.MustCompile(`(?s)<!--.*?-->\s*`)

// mentionPattern matches @handles at the start of a word. Email addresses
// are left alone.
var mentionPattern = regexp.MustCompile(`(^|[\s(\[])@([A-Za-z0-9][A-Za-z0-9_.-]*[A-Za-z0-9_]|[A-Za-z0-9])`)

// SanitizeComment makes generated text safe to post. It strips HTML comments
// and wraps @mentions in code spans so generated issues never ping people or
// trigger the bot. Returns the cleaned content and the number of changes.
func SanitizeComment(content string) (string, int) {
	count := len(htmlCommentPattern.FindAllStringIndex(content, -1))
	if count > 0 {
		content = htmlCommentPattern.ReplaceAllString(content, "")
	}

	mentions := len(mentionPattern.FindAllStringIndex(content, -1))
	if mentions > 0 {
		content = mentionPattern.ReplaceAllString(content, "$1`@$2`")
	}
	return content, count + mentions
}
