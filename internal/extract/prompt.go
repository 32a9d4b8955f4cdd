package extract

import (
	"fmt"
	"strings"
)

// SystemInstruction constrains the model's role for every variant.
const SystemInstruction = "Você é um assistente especializado em extração de dados brutos de exames. " +
	"Você nunca fornece diagnósticos. Você apenas lista o nome do exame e o valor encontrado."

// BuildPrompt returns the fixed instruction for the given variant.
func BuildPrompt(mode Mode, includeUnits bool) string {
	var rules []string
	rules = append(rules, "NÃO inclua valores de referência.")

	switch {
	case mode == ModeLines:
		rules = append(rules, "NÃO inclua unidades de medida (ex: mg/dL), apenas o número.")
	case includeUnits:
		rules = append(rules, `Coloque a unidade de medida (ex: mg/dL) no campo "unit"; use "" quando não houver unidade.`)
	default:
		rules = append(rules, `NÃO inclua unidades de medida; preencha o campo "unit" com "".`)
	}

	rules = append(rules,
		"NÃO forneça diagnósticos, interpretações ou comentários médicos.",
		`Use "." como separador decimal nos valores numéricos (ex: 5.4, nunca 5,4).`,
	)

	if mode == ModeLines {
		rules = append(rules,
			`Formate a saída como uma lista simples: "Nome do Exame: Valor".`,
			"Se houver vários exames, coloque um em cada linha.",
		)
	} else {
		rules = append(rules,
			`Responda somente com um objeto JSON no formato {"exams": [{"parameter": "...", "value": "...", "unit": "..."}]}.`,
			"Inclua um item no array para cada exame encontrado, na ordem do documento.",
		)
	}

	var sb strings.Builder
	sb.WriteString("Analise este documento de exame laboratorial.\n")
	sb.WriteString("Extraia APENAS os nomes dos exames (parâmetros) e seus respectivos resultados.\n")
	sb.WriteString("Regras estritas:\n")
	for i, r := range rules {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, r)
	}
	return sb.String()
}
