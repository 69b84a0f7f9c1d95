package constants

// Redis Key 前缀和格式常量
const (
	// ResumeKeyPrefix 简历记录键前缀，记录值为完整的JSON
	ResumeKeyPrefix = "resume:"

	// KeyResumeRecord 简历记录 (STRING)
	// 格式: resume:{id}
	KeyResumeRecord = ResumeKeyPrefix + "%s"

	// AppPrefix 是内部辅助数据的统一应用前缀
	AppPrefix = "app"

	// KeyResumeStatus 分析进度 (STRING, JSON)
	// 格式: app:resume:status:{id}
	KeyResumeStatus = AppPrefix + ":resume:status:%s"

	// KeyResumeStatusHistory 分析进度历史 (LIST, JSON)
	// 格式: app:resume:status:{id}:history
	KeyResumeStatusHistory = KeyResumeStatus + ":history"

	// KeyAuthSession 登录会话 (STRING, JSON)
	// 格式: app:auth:session:{token}
	KeyAuthSession = AppPrefix + ":auth:session:%s"
)
