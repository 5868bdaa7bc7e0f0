package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"go.uber.org/zap"
)

const (
	outputPrefix      = "transcripts/"
	maxSpeakers       = 2
	maxTranscriptSize = 64 * 1024 * 1024
)

type transcribeAPI interface {
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// ObjectOpener reads result files from object storage
type ObjectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// AWSClient runs jobs on AWS Transcribe. Results are written to the upload
// bucket under transcripts/ and read back through object storage.
type AWSClient struct {
	api          transcribeAPI
	outputBucket string
	objects      ObjectOpener
	logger       *zap.Logger
}

// NewAWSClient creates a Transcribe client
func NewAWSClient(awsCfg aws.Config, outputBucket string, objects ObjectOpener, logger *zap.Logger) *AWSClient {
	return newAWSClient(transcribe.NewFromConfig(awsCfg), outputBucket, objects, logger)
}

func newAWSClient(api transcribeAPI, outputBucket string, objects ObjectOpener, logger *zap.Logger) *AWSClient {
	return &AWSClient{api: api, outputBucket: outputBucket, objects: objects, logger: logger}
}

func outputKey(name string) string {
	return outputPrefix + name + ".json"
}

// Start submits a job with speaker labels for up to two speakers
func (c *AWSClient) Start(ctx context.Context, job Job) error {
	if job.Name == "" || job.MediaURI == "" {
		return errors.New("job name and media uri are required")
	}

	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(job.Name),
		Media:                &types.Media{MediaFileUri: aws.String(job.MediaURI)},
		MediaFormat:          types.MediaFormat(job.MediaFormat),
		LanguageCode:         types.LanguageCode(job.LanguageCode),
		Settings: &types.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(maxSpeakers),
		},
	}
	if c.outputBucket != "" {
		input.OutputBucketName = aws.String(c.outputBucket)
		input.OutputKey = aws.String(outputKey(job.Name))
	}

	if _, err := c.api.StartTranscriptionJob(ctx, input); err != nil {
		return fmt.Errorf("failed to start transcription job %s: %w", job.Name, err)
	}

	c.logger.Info("Transcription job started",
		zap.String("job_name", job.Name),
		zap.String("media_format", job.MediaFormat),
		zap.String("language", job.LanguageCode),
	)
	return nil
}

// Status fetches the current job state
func (c *AWSClient) Status(ctx context.Context, name string) (Status, error) {
	out, err := c.api.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		return Status{}, fmt.Errorf("failed to get transcription job %s: %w", name, err)
	}
	if out.TranscriptionJob == nil {
		return Status{}, fmt.Errorf("transcription job %s not returned", name)
	}

	job := out.TranscriptionJob
	status := Status{State: State(job.TranscriptionJobStatus)}
	switch status.State {
	case StateCompleted:
		if job.Transcript != nil {
			status.ResultURI = aws.ToString(job.Transcript.TranscriptFileUri)
		}
	case StateFailed:
		status.FailureReason = aws.ToString(job.FailureReason)
	}
	return status, nil
}

// Transcript reads the result file of a completed job
func (c *AWSClient) Transcript(ctx context.Context, name string) (string, error) {
	if c.outputBucket == "" {
		return "", errors.New("no output bucket configured for transcripts")
	}

	rc, err := c.objects.Open(ctx, outputKey(name))
	if err != nil {
		return "", fmt.Errorf("failed to open transcript for %s: %w", name, err)
	}
	defer rc.Close()

	return ExtractTranscript(io.LimitReader(rc, maxTranscriptSize))
}
