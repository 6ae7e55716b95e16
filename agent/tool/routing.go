package tool

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
)

const ToolCompleteOrEscalate = "complete_or_escalate"

const returnMessage = "Resuming dialog with the host assistant. Please reflect on the past conversation and assist the user as needed."

// EntryTool builds the escalation tool that hands the conversation to target.
func EntryTool(name string, target statex.AssistantID, displayName, purpose string) Definition {
	return Definition{
		Name:        name,
		Description: strings.TrimSpace(fmt.Sprintf("Transfer work to the specialized %s. %s", displayName, purpose)),
		Params: map[string]*schema.ParameterInfo{
			"request": {
				Type:     schema.String,
				Desc:     "What the user needs from the specialized assistant, with any details already collected.",
				Required: true,
			},
		},
		Sensitivity: statex.Safe,
		Kind:        KindEscalation,
		Target:      target,
		Handler: Static(fmt.Sprintf(
			"The assistant is now the %s. Reflect on the above conversation between the host assistant and the user. "+
				"The user's intent is unsatisfied. Use the provided tools to assist the user. "+
				"An update, booking or cancellation is not complete until the appropriate tool has run successfully. "+
				"If the user changes their mind or needs help with something else, call %s to hand control back to the host assistant. "+
				"Do not mention who you are; act as the proxy for the assistant.",
			displayName, ToolCompleteOrEscalate,
		)),
	}
}

// CompleteOrEscalate builds the return tool shared by every specialized assistant.
func CompleteOrEscalate() Definition {
	return Definition{
		Name: ToolCompleteOrEscalate,
		Description: "Mark the current task as completed and/or escalate control of the dialog to the host assistant, " +
			"who can re-route the dialog based on the user's needs.",
		Params: map[string]*schema.ParameterInfo{
			"cancel": {
				Type: schema.Boolean,
				Desc: "True when the task is being abandoned rather than completed.",
			},
			"reason": {
				Type: schema.String,
				Desc: "Why control is being returned.",
			},
		},
		Sensitivity: statex.Safe,
		Kind:        KindReturn,
		Handler:     Static(returnMessage),
	}
}
