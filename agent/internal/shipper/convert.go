package shipper

import (
	"github.com/obsidianstack/pagescore/pkg/rpc"
	"github.com/obsidianstack/pagescore/pkg/types"
)

// toRequest wraps a report for SendReport, stamping the agent ID. The report
// is copied so the caller's value is never mutated by the shipper.
func toRequest(agentID string, rep *types.Report) *rpc.SendReportRequest {
	out := *rep
	out.AgentID = agentID
	out.Results = append([]types.Result(nil), rep.Results...)
	return &rpc.SendReportRequest{AgentID: agentID, Report: &out}
}
