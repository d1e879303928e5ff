package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/jamdeck/internal/service"
)

// executePipeline runs the steps that follow startStep in the pipeline
func executePipeline(ctx context.Context, svc *service.JamDeckService, songName string, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := strings.ToLower(pipeline)
	startIndex := strings.IndexRune(steps, startStep)
	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	remaining := steps[startIndex+1:]
	if remaining == "" {
		return nil
	}
	fmt.Printf("Pipeline: executing steps '%s'...\n", remaining)
	if err := svc.RunPipeline(ctx, songName, remaining); err != nil {
		return err
	}
	fmt.Println("Pipeline: completed")
	return nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'e': true, // encode
		'p': true, // play
	}

	for _, step := range strings.ToLower(pipeline) {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, e=encode, p=play)", step)
		}
	}

	return nil
}
