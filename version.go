package agentdeck

// Version represents the current version of AgentDeck
const Version = "v0.3.0"
