package constants

const (
	// MinOCRTextLength OCR文本被视为可用的最小长度
	MinOCRTextLength = 50

	// ResultPathFormat 分析完成后的详情页地址
	ResultPathFormat = "/resume/%s"

	// UploadObjectPrefix 上传文件在对象存储中的前缀
	UploadObjectPrefix = "uploads"
)

// 分析流程中展示给用户的状态文案
const (
	StatusUploadingFile      = "Uploading the file..."
	StatusConverting         = "Converting PDF to image..."
	StatusUploadingImage     = "Uploading the image..."
	StatusPreparing          = "Preparing data..."
	StatusExtractingText     = "Extracting text from resume..."
	StatusAnalyzing          = "Analyzing resume with AI..."
	StatusParsing            = "Parsing feedback..."
	StatusFallback           = "Text extraction unavailable - proceeding with basic analysis..."
	StatusAIFallback         = "AI analysis unavailable - proceeding with basic analysis..."
	StatusCompleted          = "Analysis completed, redirecting..."
	StatusNotAuthenticated   = "Error: Please sign in to analyze your resume"
	StatusNotReady           = "Error: Service is not ready, please try again later"
	StatusInvalidRequest     = "Error: Please provide a PDF file, company name, job title and job description"
	StatusUploadFailed       = "Error: Failed to upload file"
	StatusImageUploadFailed  = "Error: Failed to upload image"
	StatusRecordWriteFailed  = "Error: Failed to save resume"
	StatusConversionFailedFm = "Error: %s"
)
