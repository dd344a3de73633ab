package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the broker MCP server. Descriptions are what the LLM
// reads to decide which tool to use, so they spell out the state machine
// each tool moves an entity through rather than just naming the field.

var ToolCreateEscrow = mcp.NewTool("create_escrow",
	mcp.WithDescription(
		"Open an escrow holding funds between two agents for a bounded task. "+
			"The escrow starts pending and needs fund, then approve, before it can "+
			"be released to the payee or disputed."),
	mcp.WithString("payer", mcp.Required(), mcp.Description("The paying agent's id/address")),
	mcp.WithString("payee", mcp.Required(), mcp.Description("The receiving agent's id/address")),
	mcp.WithString("amount", mcp.Required(), mcp.Description("Amount to hold, e.g. '1.50'")),
	mcp.WithString("token", mcp.Required(), mcp.Description("Token denomination"), mcp.Enum("primary-native", "erc20-stable")),
	mcp.WithString("purpose", mcp.Description("Free-text description of what the escrow is for")),
	mcp.WithNumber("timeout_minutes", mcp.Description("Minutes after which a funded or locked escrow that was not released is refunded to the payer")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription("Look up an escrow's current state and history by id."),
	mcp.WithString("escrow_id", mcp.Required(), mcp.Description("The escrow id returned by create_escrow")),
)

var ToolFundEscrow = mcp.NewTool("fund_escrow",
	mcp.WithDescription("Mark an escrow as funded once the on-chain or payment-rail transfer into it has settled."),
	mcp.WithString("escrow_id", mcp.Required()),
	mcp.WithString("external_hash", mcp.Required(), mcp.Description("Transaction hash or payment reference proving the funds moved")),
)

var ToolApproveEscrow = mcp.NewTool("approve_escrow",
	mcp.WithDescription("Record a party's approval of a funded escrow. Payer and payee both approve; the escrow locks once both have."),
	mcp.WithString("escrow_id", mcp.Required()),
	mcp.WithString("approver_id", mcp.Required(), mcp.Description("The approving agent's id/address")),
)

var ToolReleaseEscrow = mcp.NewTool("release_escrow",
	mcp.WithDescription("Release a locked escrow's held amount to the payee."),
	mcp.WithString("escrow_id", mcp.Required()),
	mcp.WithString("reason", mcp.Description("Optional note recorded with the release")),
)

var ToolDisputeEscrow = mcp.NewTool("dispute_escrow",
	mcp.WithDescription(
		"Dispute a locked escrow instead of releasing it. Use this when delivered "+
			"work was unsatisfactory or never arrived; an arbiter resolves the dispute separately."),
	mcp.WithString("escrow_id", mcp.Required()),
	mcp.WithString("disputer_id", mcp.Required(), mcp.Description("The disputing agent's id/address")),
	mcp.WithString("reason", mcp.Required(), mcp.Description("Explanation of why the result was unsatisfactory")),
)

var ToolCreateQuote = mcp.NewTool("create_quote",
	mcp.WithDescription(
		"Request a price quote from a provider agent for a piece of work. "+
			"The provider can accept as-is, counter with a different amount, or let it expire."),
	mcp.WithString("requester", mcp.Required(), mcp.Description("The requesting agent's id/address")),
	mcp.WithString("provider", mcp.Required(), mcp.Description("The provider agent's id/address")),
	mcp.WithString("amount", mcp.Required(), mcp.Description("Proposed amount, e.g. '2.00'")),
	mcp.WithString("token", mcp.Required(), mcp.Enum("primary-native", "erc20-stable")),
	mcp.WithString("description", mcp.Description("What the work is")),
	mcp.WithNumber("expires_in_minutes", mcp.Description("Minutes before the quote expires unanswered")),
)

var ToolGetQuote = mcp.NewTool("get_quote",
	mcp.WithDescription("Look up a quote's current state by id."),
	mcp.WithString("quote_id", mcp.Required()),
)

var ToolAcceptQuote = mcp.NewTool("accept_quote",
	mcp.WithDescription("Accept a pending quote at its original proposed amount."),
	mcp.WithString("quote_id", mcp.Required()),
	mcp.WithString("caller_id", mcp.Required(), mcp.Description("The id/address of the agent accepting")),
)

var ToolCounterOffer = mcp.NewTool("counter_offer",
	mcp.WithDescription("Counter a pending quote with a different amount. The other side can then accept_counter or reject."),
	mcp.WithString("quote_id", mcp.Required()),
	mcp.WithString("caller_id", mcp.Required()),
	mcp.WithString("amount", mcp.Required(), mcp.Description("Counter-proposed amount")),
	mcp.WithString("note", mcp.Description("Optional note explaining the counter")),
)

var ToolAcceptCounter = mcp.NewTool("accept_counter",
	mcp.WithDescription("Accept the other side's counter-offer on a quote, locking in that amount."),
	mcp.WithString("quote_id", mcp.Required()),
	mcp.WithString("caller_id", mcp.Required()),
)

var ToolConfirmDelivery = mcp.NewTool("confirm_delivery",
	mcp.WithDescription("Confirm delivered work on an accepted quote, settling payment to the provider."),
	mcp.WithString("quote_id", mcp.Required()),
	mcp.WithString("caller_id", mcp.Required()),
	mcp.WithString("reason", mcp.Description("Optional note recorded with the confirmation")),
)

var ToolCreateTip = mcp.NewTool("create_tip",
	mcp.WithDescription(
		"Send a tip to a contributor, attributed to a repository. Creates the tip "+
			"in the pending state; the tip's later escrow, funding and release steps "+
			"are not available as MCP tools."),
	mcp.WithString("repo_ref", mcp.Required(), mcp.Description("The '<owner>/<name>' repository this tip is attributed to")),
	mcp.WithString("tipper", mcp.Required(), mcp.Description("The tipping agent's id/address")),
	mcp.WithString("recipient", mcp.Required(), mcp.Description("GitHub handle or 0x address of the recipient")),
	mcp.WithString("amount", mcp.Required(), mcp.Description("Amount to tip, e.g. '5.00'")),
	mcp.WithString("token", mcp.Required(), mcp.Enum("primary-native", "erc20-stable")),
	mcp.WithString("message", mcp.Description("Optional message attached to the tip")),
)

var ToolGetTip = mcp.NewTool("get_tip",
	mcp.WithDescription("Look up a tip's current state and settlement details by id."),
	mcp.WithString("tip_id", mcp.Required()),
)

var ToolGetRepoTipStats = mcp.NewTool("get_repo_tip_stats",
	mcp.WithDescription("Get aggregate tipping stats for a repository: tip count, sum and average per token, and counts per token and per status."),
	mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner segment")),
	mcp.WithString("name", mcp.Required(), mcp.Description("Repository name segment")),
)

var ToolListAgentEscrows = mcp.NewTool("list_agent_escrows",
	mcp.WithDescription("List escrows an agent is a party to, most recent first."),
	mcp.WithString("agent_id", mcp.Required()),
)

var ToolListAgentQuotes = mcp.NewTool("list_agent_quotes",
	mcp.WithDescription("List quotes an agent is a party to, most recent first."),
	mcp.WithString("agent_id", mcp.Required()),
)
