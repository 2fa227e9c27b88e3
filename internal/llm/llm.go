package llm

import (
	"context"
	stdErrors "errors"
	"fmt"
	"iter"
	"strings"

	"github.com/go-playground/validator/v10"

	xerrors "TextRelay/internal/errors"
)

// Kind 标识请求的文本处理类型。
type Kind string

const (
	KindTranslate Kind = "translate"
	KindSummarize Kind = "summarize"
)

const (
	DefaultSourceLang = "auto"
	DefaultTargetLang = "英文"
	DefaultMaxLength  = 200
	MaxTextLength     = 10000
)

// Valid 判断类型是否受支持。
func (k Kind) Valid() bool {
	return k == KindTranslate || k == KindSummarize
}

// Request 描述一次翻译或总结请求。字段在任务创建后不再修改。
type Request struct {
	Kind       Kind   `json:"kind" validate:"required,oneof=translate summarize"`
	Text       string `json:"text" validate:"required,max=10000"`
	SourceLang string `json:"source_lang,omitempty" validate:"omitempty,max=32"`
	TargetLang string `json:"target_lang,omitempty" validate:"omitempty,max=32"`
	MaxLength  int    `json:"max_length,omitempty" validate:"gte=0,lte=5000"`
}

// Client 定义了文本处理器的统一接口。
//
// GenerateStream 返回的序列按产生顺序给出结果片段；消费方提前停止迭代时，
// 实现应尽快结束底层调用。
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request) iter.Seq2[string, error]
}

var (
	// ErrUnavailable 表示处理器暂时不可用（未配置、网络故障、限流等）。
	ErrUnavailable = xerrors.New(xerrors.CodeProcessorUnavailable, "")
	// ErrProcessing 表示处理器返回了错误结果。
	ErrProcessing = xerrors.New(xerrors.CodeProcessorFailure, "")
	// ErrInvalidRequest 表示请求未通过校验。
	ErrInvalidRequest = xerrors.New(xerrors.CodeValidation, "")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize 填充默认值并清洗文本。
func (r Request) Normalize() Request {
	r.Kind = Kind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	r.Text = Preprocess(r.Text)
	switch r.Kind {
	case KindTranslate:
		if strings.TrimSpace(r.SourceLang) == "" {
			r.SourceLang = DefaultSourceLang
		}
		if strings.TrimSpace(r.TargetLang) == "" {
			r.TargetLang = DefaultTargetLang
		}
		r.MaxLength = 0
	case KindSummarize:
		if r.MaxLength == 0 {
			r.MaxLength = DefaultMaxLength
		}
		r.SourceLang, r.TargetLang = "", ""
	}
	return r
}

// Validate 校验请求，失败时返回 VALIDATION_FAILED 错误。
func Validate(req Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stdErrors.As(err, &verrs) {
		return xerrors.Wrap(xerrors.CodeValidation, err, "请求校验失败")
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, describeFieldError(fe))
	}
	return xerrors.New(xerrors.CodeValidation, strings.Join(details, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " 不能为空"
	case "oneof":
		return fmt.Sprintf("%s 必须是 [%s] 之一", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s 不能超过 %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s 不能小于 %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s 校验失败 (%s)", field, fe.Tag())
	}
}

func jsonName(field string) string {
	switch field {
	case "SourceLang":
		return "source_lang"
	case "TargetLang":
		return "target_lang"
	case "MaxLength":
		return "max_length"
	default:
		return strings.ToLower(field)
	}
}

// Prepare 先规范化再校验，返回可以直接交给处理器的请求。
func Prepare(req Request) (Request, error) {
	normalized := req.Normalize()
	if err := Validate(normalized); err != nil {
		return Request{}, err
	}
	return normalized, nil
}
