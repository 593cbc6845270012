// Package mcp is a Model Context Protocol client for Home Assistant's MCP
// server integration. It speaks JSON-RPC 2.0 over streamable HTTP,
// discovers tools with tools/list and bridges them into the agent's tool
// registry as mcp_<server>_<tool>.
package mcp
