package pipeline

// State 分析流程所处阶段
type State string

const (
	StateIdle              State = "idle"
	StateUploading         State = "uploading"
	StateConverting        State = "converting"
	StateExtractingText    State = "extracting_text"
	StateAnalyzingWithAI   State = "analyzing_with_ai"
	StateParsing           State = "parsing"
	StatePersistedSuccess  State = "persisted_success"
	StatePersistedFallback State = "persisted_fallback"
	StateFailed            State = "failed"
)

// 流程只向前推进，不会回到之前的阶段
var transitions = map[State][]State{
	StateIdle:            {StateUploading, StateFailed},
	StateUploading:       {StateConverting, StateFailed},
	StateConverting:      {StateExtractingText, StateFailed},
	StateExtractingText:  {StateAnalyzingWithAI, StatePersistedFallback, StateFailed},
	StateAnalyzingWithAI: {StateParsing, StatePersistedFallback, StateFailed},
	StateParsing:         {StatePersistedSuccess, StatePersistedFallback, StateFailed},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StatePersistedSuccess || s == StatePersistedFallback || s == StateFailed
}

// Persisted 是否已写入最终记录
func (s State) Persisted() bool {
	return s == StatePersistedSuccess || s == StatePersistedFallback
}
