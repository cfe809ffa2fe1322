package lab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"witlab/internal/fsnav"
	"witlab/internal/logging"
	"witlab/internal/tools"
)

type pathArgs struct {
	ExpID      tools.Text `json:"exp_id"`
	TestNumber tools.Int  `json:"test_number"`
	PathType   tools.Text `json:"path_type"`
}

// PathGeneratorTool returns the result-path builder.
func PathGeneratorTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name: "path_generator",
		Description: `Generate a dynamic path based on the experiment ID (exp_id), optional test number, and path type.
The path will follow the format: <db_base_folder>/<exp_id>/all/<path_type>/<test_number>.`,
		Category: tools.CategoryFiles,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			var a pathArgs
			if err := tools.Bind(args, &a); err != nil {
				return "", err
			}
			typ, err := fsnav.ParsePathType(string(a.PathType))
			if err != nil {
				return "", err
			}
			return fsnav.ResultPath(d.BaseFolder, string(a.ExpID), a.TestNumber.Ptr(), typ)
		},
		Schema: tools.ToolSchema{
			Required: []string{"exp_id"},
			Properties: map[string]tools.Property{
				"exp_id": {
					Type:        "string",
					Description: "The experiment ID (required).",
				},
				"test_number": {
					Type:        "integer",
					Description: "The test number (optional).",
				},
				"path_type": {
					Type:        "string",
					Description: "The type of path to generate (optional, default is 'IV').",
					Enum:        []any{string(fsnav.PathIV), string(fsnav.PathInSitu)},
				},
			},
		},
	}
}

type folderArgs struct {
	Path     tools.Text `json:"path"`
	StepInto tools.Text `json:"step_into"`
	Depth    tools.Int  `json:"depth"`
}

// FolderReaderTool returns the directory listing tool.
func FolderReaderTool() *tools.Tool {
	return &tools.Tool{
		Name: "folder_reader",
		Description: `Navigate through directories and list their contents in a hierarchical format.
Use this tool when you need to explore the filesystem and list files or subdirectories in a structured way.
The tool accepts a directory path and can step into subdirectories to list their contents.`,
		Category: tools.CategoryFiles,
		Execute:  executeFolderReader,
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "(required) The initial directory path to start from.",
				},
				"step_into": {
					Type:        "string",
					Description: "(optional) The name of a subdirectory to step into. Use this to navigate through directories.",
				},
				"depth": {
					Type:        "integer",
					Description: "(optional) The maximum depth to traverse. Default is 1.",
					Default:     fsnav.DefaultDepth,
				},
			},
		},
	}
}

func executeFolderReader(ctx context.Context, args map[string]any) (string, error) {
	var a folderArgs
	if err := tools.Bind(args, &a); err != nil {
		return "", err
	}
	if a.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	return fsnav.List(string(a.Path), string(a.StepInto), a.Depth.Or(fsnav.DefaultDepth))
}

type saverArgs struct {
	Content  string     `json:"content"`
	FilePath tools.Text `json:"file_path"`
	Mode     tools.Text `json:"mode"`
}

// FileSaverTool returns the tool that writes text to a file.
func FileSaverTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name: "file_saver",
		Description: `Save content to a local file at a specified path.
Use this tool when you need to save text, results, or recommended formulas to a file on the local filesystem.
Relative paths are saved under the experiment data folder.`,
		Category: tools.CategoryFiles,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeFileSaver(d, args)
		},
		Schema: tools.ToolSchema{
			Required: []string{"content", "file_path"},
			Properties: map[string]tools.Property{
				"content": {
					Type:        "string",
					Description: "(required) The content to save to the file.",
				},
				"file_path": {
					Type:        "string",
					Description: "(required) The path where the file should be saved, including filename and extension.",
				},
				"mode": {
					Type:        "string",
					Description: "(optional) The file opening mode. Default is 'w' for write. Use 'a' for append.",
					Enum:        []any{"w", "a"},
					Default:     "w",
				},
			},
		},
	}
}

func executeFileSaver(d *Deps, args map[string]any) (string, error) {
	var a saverArgs
	if err := tools.Bind(args, &a); err != nil {
		return "", err
	}
	if a.FilePath == "" {
		return "", fmt.Errorf("file_path is required")
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	switch a.Mode {
	case "", "w":
	case "a":
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	default:
		return "", fmt.Errorf("invalid mode %q (valid: w, a)", a.Mode)
	}

	path := d.resolve(string(a.FilePath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	if _, err := f.WriteString(a.Content); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	logging.Tools("file_saver: wrote %d bytes to %s", len(a.Content), path)
	return fmt.Sprintf("Content successfully saved to %s", path), nil
}
