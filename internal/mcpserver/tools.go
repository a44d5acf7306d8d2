package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeCreditRisk = mcp.NewTool("analyze_credit_risk",
	mcp.WithDescription(
		"Run a credit-risk analysis for a public company by stock ticker. "+
			"Returns the probability of default, the risk level, the strongest risk drivers, "+
			"key financial metrics and supporting excerpts from SEC filings. "+
			"A first-time analysis for a new company may take 20-30 seconds."),
	mcp.WithString("ticker",
		mcp.Required(),
		mcp.Description("Stock ticker symbol, e.g. 'AAPL' or 'MSFT'")),
	mcp.WithBoolean("wait",
		mcp.Description("Wait for the analysis to finish (default true). When false, returns right after submission.")),
)

var ToolGetDashboard = mcp.NewTool("get_dashboard",
	mcp.WithDescription(
		"Show the current dashboard: who is signed in, the selected ticker and the status "+
			"or result of the most recent credit-risk analysis."),
)
