package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"github.com/spf13/cobra"
)

type tokenPayload struct {
	AccessToken string `json:"access_token" yaml:"access_token"`
	ExpiresIn   int64  `json:"expires_in" yaml:"expires_in"`
	TokenType   string `json:"token_type" yaml:"token_type"`
}

type lookupPayload struct {
	Found       bool                      `json:"found" yaml:"found"`
	Certificate *certificates.Certificate `json:"certificate,omitempty" yaml:"certificate,omitempty"`
	Analysis    string                    `json:"ai_analysis,omitempty" yaml:"ai_analysis,omitempty"`
}

type statsPayload struct {
	Version    string                       `json:"version" yaml:"version"`
	Total      int64                        `json:"total" yaml:"total"`
	Categories []certificates.CategoryCount `json:"categories" yaml:"categories"`
}

// withService opens the local registry for a single command invocation.
func withService(cmd *cobra.Command, run func(context.Context, *certificates.Service) error) error {
	ctx := cmd.Context()
	runtime, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer runtime.Close()

	var events certificates.EventSink
	if runtime.bus != nil {
		events = runtime.bus
	}
	service, err := runtime.newService(events, nil)
	if err != nil {
		return err
	}
	return run(ctx, service)
}

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer runtime.Close()

			issuer, err := newTokenIssuer(runtime.config)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			return writeOutput(cmd, tokenPayload{AccessToken: token, ExpiresIn: expiresIn, TokenType: "Bearer"})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Identity carried by the token")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newSubmitCommand() *cobra.Command {
	var (
		caller    string
		proofID   string
		proofText string
		category  string
		metadata  string
		tags      []string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create a certificate owned by the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, service *certificates.Service) error {
				request := certificates.SubmitRequest{
					Caller:    certificates.OwnerID(caller),
					ProofText: proofText,
					ProofID:   proofID,
					AITags:    tags,
				}
				if cmd.Flags().Changed("category") {
					request.Category = &category
				}
				if cmd.Flags().Changed("metadata") {
					request.Metadata = &metadata
				}
				created, err := service.Submit(ctx, request)
				if err != nil {
					return err
				}
				return writeOutput(cmd, created)
			})
		},
	}
	cmd.Flags().StringVar(&caller, "as", "", "Caller identity")
	cmd.Flags().StringVar(&proofID, "proof-id", "", "Certificate identifier within the caller's namespace")
	cmd.Flags().StringVar(&proofText, "text", "", "Claim carried by the certificate")
	cmd.Flags().StringVar(&category, "category", "", "Category label (defaults to GENERAL)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Opaque metadata (defaults to {})")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "AI tag, repeatable")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("proof-id")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newUpdateCommand() *cobra.Command {
	var (
		caller    string
		owner     string
		proofID   string
		proofText string
		category  string
		metadata  string
		tags      []string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace content fields of a certificate created by the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, service *certificates.Service) error {
				request := certificates.UpdateRequest{
					Caller:  certificates.OwnerID(caller),
					Owner:   certificates.OwnerID(owner),
					ProofID: proofID,
				}
				if cmd.Flags().Changed("text") {
					request.ProofText = &proofText
				}
				if cmd.Flags().Changed("category") {
					request.Category = &category
				}
				if cmd.Flags().Changed("metadata") {
					request.Metadata = &metadata
				}
				if cmd.Flags().Changed("tag") {
					request.AITags = &tags
				}
				updated, err := service.Update(ctx, request)
				if err != nil {
					return err
				}
				return writeOutput(cmd, updated)
			})
		},
	}
	cmd.Flags().StringVar(&caller, "as", "", "Caller identity")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the certificate (defaults to the caller)")
	cmd.Flags().StringVar(&proofID, "proof-id", "", "Certificate identifier")
	cmd.Flags().StringVar(&proofText, "text", "", "Replacement claim")
	cmd.Flags().StringVar(&category, "category", "", "Replacement category")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Replacement metadata")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Replacement AI tags, repeatable")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("proof-id")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var (
		caller   string
		owner    string
		proofID  string
		score    int64
		status   string
		analysis string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Record a verification verdict as the verifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, service *certificates.Service) error {
				verdict, err := certificates.ParseVerificationStatus(status)
				if err != nil {
					return err
				}
				identity := certificates.OwnerID(caller)
				if identity == "" {
					identity = service.VerifierID()
				}
				verified, err := service.Verify(ctx, certificates.VerifyRequest{
					Caller:          identity,
					Owner:           certificates.OwnerID(owner),
					ProofID:         proofID,
					ConfidenceScore: score,
					Status:          verdict,
					Analysis:        analysis,
				})
				if err != nil {
					return err
				}
				return writeOutput(cmd, verified)
			})
		},
	}
	cmd.Flags().StringVar(&caller, "as", "", "Caller identity (defaults to the configured verifier)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the certificate")
	cmd.Flags().StringVar(&proofID, "proof-id", "", "Certificate identifier")
	cmd.Flags().Int64Var(&score, "score", 0, "Confidence score in 0..100")
	cmd.Flags().StringVar(&status, "status", "", "Verdict: pending, verified, rejected or flagged")
	cmd.Flags().StringVar(&analysis, "analysis", "", "Opaque analysis payload")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("proof-id")
	_ = cmd.MarkFlagRequired("score")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newGetCommand() *cobra.Command {
	var (
		owner   string
		proofID string
	)
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a certificate and its analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, service *certificates.Service) error {
				ownerID := certificates.OwnerID(owner)
				certificate, found, err := service.Lookup(ctx, ownerID, proofID)
				if err != nil {
					return err
				}
				if !found {
					return writeOutput(cmd, lookupPayload{Found: false})
				}
				analysis, err := service.GetAnalysis(ctx, ownerID, proofID)
				if err != nil {
					return err
				}
				return writeOutput(cmd, lookupPayload{Found: true, Certificate: &certificate, Analysis: analysis})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the certificate")
	cmd.Flags().StringVar(&proofID, "proof-id", "", "Certificate identifier")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("proof-id")
	return cmd
}

func newListCommand() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's certificates in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, service *certificates.Service) error {
				owned, err := service.ListForOwner(ctx, certificates.OwnerID(owner))
				if err != nil {
					return err
				}
				return writeOutput(cmd, owned)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner identity")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newCategoryCommand() *cobra.Command {
	var (
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "category",
		Short: "List certificates currently in a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must not be negative")
			}
			return withService(cmd, func(ctx context.Context, service *certificates.Service) error {
				listed, err := service.ListByCategory(ctx, category, limit)
				if err != nil {
					return err
				}
				return writeOutput(cmd, listed)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", certificates.DefaultCategory, "Category label")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of certificates (0 selects the default page size)")
	return cmd
}

func newStatsCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show registry counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, service *certificates.Service) error {
				if category != "" {
					count, err := service.CategoryCount(ctx, category)
					if err != nil {
						return err
					}
					return writeOutput(cmd, certificates.CategoryCount{Category: category, Count: count})
				}
				total, err := service.TotalCertificates(ctx)
				if err != nil {
					return err
				}
				counts, err := service.CategoryCounts(ctx)
				if err != nil {
					return err
				}
				return writeOutput(cmd, statsPayload{Version: certificates.RegistryVersion, Total: total, Categories: counts})
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Show only this category's counter")
	return cmd
}

func newEventsCommand() *cobra.Command {
	var (
		owner   string
		proofID string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log of a certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, service *certificates.Service) error {
				events, err := service.ListEvents(ctx, certificates.OwnerID(owner), proofID)
				if err != nil {
					return err
				}
				return writeOutput(cmd, events)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the certificate")
	cmd.Flags().StringVar(&proofID, "proof-id", "", "Certificate identifier")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("proof-id")
	return cmd
}
