package perplexity

import "strings"

// Model selection is a provider contract detail: the baseline text model,
// upgraded when an image has to be understood.
const (
	modelBaseline = "sonar"
	modelVision   = "sonar-pro"
)

// DefaultImageQuestion replaces the question text when the user sent only
// a picture.
const DefaultImageQuestion = "Что на картинке? Если там задача — реши её."

// personaPrompt is the bot's fixed character. Answers must be plain text:
// the chat channel renders no markup.
const personaPrompt = "Твое имя Улитка. " +
	"Твой стиль: много слов-паразитов (типа, лол, короче, походу, ну). " +
	"1. Отвечай ТОЛЬКО чистым текстом. НЕ используй markdown или html. " +
	"2. Ссылки пиши как есть (https://...). " +
	"3. Если грубят - отвечай агрессивно матом. " +
	"4. Если извиняются - прощай."

// structuredSuffix tightens sourcing and formatting for problem-solving
// questions.
const structuredSuffix = "Сейчас тебе задали учебную задачу. " +
	"Решай строго по шагам, проверяй вычисления, не выдумывай факты. " +
	"Опирайся только на надежные источники. " +
	"Не используй формулы в LaTeX, пиши их обычным текстом."

func systemPrompt(structured bool, context string) string {
	var b strings.Builder
	b.WriteString(personaPrompt)
	if context = strings.TrimSpace(context); context != "" {
		b.WriteString(" ")
		b.WriteString(context)
	}
	if structured {
		b.WriteString(" ")
		b.WriteString(structuredSuffix)
	}
	return b.String()
}

func pickModel(q Query) string {
	if q.Image != nil {
		return modelVision
	}
	return modelBaseline
}
