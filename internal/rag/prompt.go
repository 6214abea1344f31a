package rag

import (
	"fmt"
	"strings"

	"github.com/ximass/lumnia/internal/model"
	"github.com/ximass/lumnia/internal/search"
)

// insufficientInfoSentence 上下文不足时模型必须使用的固定句子
const insufficientInfoSentence = "Não encontrei informações suficientes na base de conhecimento para responder a essa pergunta."

// basePrompt 知识库问答的基础指令
const basePrompt = `Você é um assistente que responde perguntas com base exclusivamente no contexto fornecido.

Regras:
- Use somente as informações presentes no contexto abaixo.
- Se a pergunta for apenas uma saudação, responda de forma amigável e ofereça ajuda adicional.
- Se o contexto não contiver informações suficientes, responda exatamente: "` + insufficientInfoSentence + `"
- Não invente fatos nem use conhecimento externo.
- Responda no mesmo idioma da pergunta.`

// noContextPrompt 检索没有命中任何块时的指令，明确告知模型上下文为空
const noContextPrompt = `Você é um assistente de uma base de conhecimento.

Não foram encontradas informações relevantes na base de conhecimento para esta pergunta.

Regras:
- Se a pergunta for apenas uma saudação, responda de forma amigável e ofereça ajuda adicional.
- Caso contrário, informe ao usuário que não há informações disponíveis sobre este assunto, respondendo exatamente: "` + insufficientInfoSentence + `"
- Não invente fatos nem use conhecimento externo.
- Responda no mesmo idioma da pergunta.`

// buildSystemPrompt 组装系统指令
// 人格指令在前，基础规则与上下文在后
func buildSystemPrompt(persona *model.Persona, chunks []search.ScoredChunk, sourceNames map[string]string) string {
	var b strings.Builder

	if persona != nil {
		b.WriteString(persona.SystemInstructions())
		b.WriteString("\n\n")
	}

	if len(chunks) == 0 {
		b.WriteString(noContextPrompt)
		return b.String()
	}

	b.WriteString(basePrompt)

	b.WriteString("\n\n=== CONTEXTO ===\n")
	for i, sc := range chunks {
		name := sourceNames[sc.Chunk.SourceID]
		if name == "" {
			name = "desconhecida"
		}
		b.WriteString(fmt.Sprintf("\nTrecho %d (Fonte: %s):\n%s\n", i+1, name, sc.Chunk.Text))
	}
	b.WriteString("\n=== FIM DO CONTEXTO ===")

	return b.String()
}

// estimateMessageTokens 粗估一条历史消息占用的 token 数
// 约 4 个字符一个 token
func estimateMessageTokens(message model.Message) int {
	return (len(message.Text) + len(message.Answer)) / 4
}

// selectContextMessages 在 token 预算内挑选会话历史
// 从最新往回选，超出预算即停，返回按时间正序
func selectContextMessages(messages []model.Message, maxTokens int) []model.Message {
	if maxTokens <= 0 {
		return messages
	}

	budget := maxTokens
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := estimateMessageTokens(messages[i])
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}

	return messages[start:]
}
