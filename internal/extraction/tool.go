package extraction

// ToolName is the only tool the model may call.
const ToolName = "create_transactions"

// extractionPrompt is the task instruction shared by all completion backends
const extractionPrompt = `Você é um assistente financeiro. Extraia transações (entradas/saídas) a partir do arquivo anexado ou do texto fornecido (pode ser CSV/XLSX/PDF/Imagem). Retorne usando a tool create_transactions com uma lista de transações.

Regras:
- valores sempre positivos (magnitude); nunca use sinal negativo
- tipo EXPENSE para gastos/saídas e INCOME para entradas
- category e tag curtas (uma ou duas palavras)
- date em YYYY-MM-DD; se não tiver data use a data de hoje
- isRecurring true apenas para cobranças claramente recorrentes (assinaturas, aluguel, salário)
- não invente dados que não estão no documento
- se estiver ambíguo, use descrição clara e marque categoria como 'Outros'`

// CreateTransactionsTool declares the structured output contract.
func CreateTransactionsTool() Tool {
	item := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"description": {Type: "string"},
			"amount":      {Type: "number"},
			"type":        {Type: "string", Enum: []string{string(Income), string(Expense)}},
			"category":    {Type: "string"},
			"tag":         {Type: "string", Nullable: true},
			"date":        {Type: "string", Description: "YYYY-MM-DD"},
			"isRecurring": {Type: "boolean"},
		},
		Required: []string{"description", "amount", "type", "category", "date", "isRecurring"},
	}
	return Tool{
		Name:        ToolName,
		Description: "Create normalized transactions parsed from the provided document/extract.",
		Parameters: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"transactions": {Type: "array", Items: item},
			},
			Required: []string{"transactions"},
		},
	}
}
