package domain

// Exchange is one step of a model's conversation: the prompt, and the
// model's own reply to it when the model answered that turn.
type Exchange struct {
	Sender   Sender
	Prompt   string
	Reply    string
	Answered bool
}

// HistoryFor folds the ordered turns of a session into the context seen by
// one model. Replies from other models are never included; turns the model
// did not answer contribute only their prompt.
func HistoryFor(turns []Turn, provider Provider, label string) []Exchange {
	history := make([]Exchange, 0, len(turns))
	for _, t := range turns {
		ex := Exchange{Sender: t.Message.Sender, Prompt: t.Message.Content}
		for _, r := range t.Responses {
			if r.Provider == provider && r.ModelLabel == label {
				ex.Reply = r.Content
				ex.Answered = true
				break
			}
		}
		history = append(history, ex)
	}
	return history
}
