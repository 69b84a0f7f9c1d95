package feedback

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const systemMessage = "You are an expert in ATS (Applicant Tracking System) and resume analysis. " +
	"You always answer with a single JSON object and nothing else."

// responseFormat 与 types.Feedback 的JSON结构保持一致
const responseFormat = `{
  "overallScore": number,
  "ATS": {"score": number, "tips": [{"type": "good" | "improve", "tip": string}]},
  "toneAndStyle": {"score": number, "tips": [{"type": "good" | "improve", "tip": string, "explanation": string}]},
  "content": {"score": number, "tips": [{"type": "good" | "improve", "tip": string, "explanation": string}]},
  "structure": {"score": number, "tips": [{"type": "good" | "improve", "tip": string, "explanation": string}]},
  "skills": {"score": number, "tips": [{"type": "good" | "improve", "tip": string, "explanation": string}]}
}`

const instructionTemplate = `Review the resume below and rate how well it would perform for the job described.
Be thorough and honest. Low scores are fine when the resume is weak.
If a job description is provided, weigh how closely the resume matches it.

Job title: %s
Job description: %s

Every score is an integer from 0 to 100. Give 3 or 4 tips per category.
Tip "type" is "good" for strengths and "improve" for problems to fix.
Respond with JSON in exactly this format:
%s

Return the analysis as a JSON object without any other text and without backticks.`

// PrepareInstructions 生成嵌入岗位信息的分析指令
func PrepareInstructions(jobTitle, jobDescription string) string {
	return fmt.Sprintf(instructionTemplate,
		strings.TrimSpace(jobTitle),
		strings.TrimSpace(jobDescription),
		responseFormat)
}

// BuildMessages 组装发送给模型的消息，简历文本附在指令之后
func BuildMessages(jobTitle, jobDescription, resumeText string) []*schema.Message {
	var sb strings.Builder
	sb.WriteString(PrepareInstructions(jobTitle, jobDescription))
	sb.WriteString("\n\nResume text:\n")
	sb.WriteString(strings.TrimSpace(resumeText))

	return []*schema.Message{
		schema.SystemMessage(systemMessage),
		schema.UserMessage(sb.String()),
	}
}
