package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"TextRelay/sdk/go/textrelay"
)

func newClient(cmd *cli.Command) (*textrelay.Client, error) {
	client, err := textrelay.NewClient(cmd.String("url"), nil)
	if err != nil {
		return nil, err
	}
	client.SetAccessToken(cmd.String("token"))
	return client, nil
}

// inputText 读取第一个位置参数，"-" 表示从标准输入读取。
func inputText(cmd *cli.Command) (string, error) {
	arg := cmd.Args().First()
	switch arg {
	case "":
		return "", errors.New("缺少输入文本")
	case "-":
		data, err := io.ReadAll(cmd.Root().Reader)
		if err != nil {
			return "", fmt.Errorf("读取标准输入失败: %w", err)
		}
		return string(data), nil
	default:
		return strings.Join(cmd.Args().Slice(), " "), nil
	}
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// render 按 --output 输出结果。text 格式输出 plain，其余格式输出完整结构。
func render(cmd *cli.Command, value any, plain string) error {
	w := stdout(cmd)
	switch format := cmd.String("output"); format {
	case "", "text":
		_, err := fmt.Fprintln(w, plain)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case "yaml":
		data, err := toYAML(value)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("不支持的输出格式: %s", format)
	}
}

// toYAML 先经过 JSON 编码，使 YAML 输出与接口字段名一致。
func toYAML(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}
