// Package orchestrator drives a single conversational turn to completion.
//
// A turn starts from one user message. The orchestrator consults the command
// interceptor, then alternates between the primary agent and whatever the
// agent asks for (tool calls or a delegation to the sub-agent) until the
// agent answers without further requests or the call budget runs out.
//
// State lives in a Session created per turn and discarded afterwards. The
// next state is always chosen by Route, a pure function of the session,
// evaluated in a fixed order:
//
//  1. command verdict
//  2. call budget (call_count >= max_calls)
//  3. pending delegation
//  4. tool requests on the reply the primary agent just produced
//  5. end of turn
//
// Agent, tool and delegation failures never abort a turn. They are recorded
// in the session's error list and the turn continues per the routing rules.
package orchestrator
