package slack

import (
    "fmt"

    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/slack-go/slack"
)

// Component action ids the wizard dispatches on.
const (
    ActionConnectJira = "connect_jira"
    ActionSelectBoard = "select_board"
    ActionReconfigure = "reconfigure"
)

func plain(text string) *slack.TextBlockObject {
    return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

func mrkdwnSection(text string) *slack.SectionBlock {
    return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func modal(title, closeLabel, callbackID string, blocks ...slack.Block) slack.ModalViewRequest {
    return slack.ModalViewRequest{
        Type:       slack.VTModal,
        Title:      plain(title),
        Close:      plain(closeLabel),
        CallbackID: callbackID,
        Blocks:     slack.Blocks{BlockSet: blocks},
    }
}

// ConnectPromptView is the Unconnected entry: a welcome plus the connect button.
func ConnectPromptView() slack.ModalViewRequest {
    btn := slack.NewButtonBlockElement(ActionConnectJira, "connect", plain("🔗 Connect Jira Account"))
    btn.Style = slack.StylePrimary
    return modal("Standup Setup", "Cancel", "setup_modal",
        mrkdwnSection("*Welcome to Weekly Standup!*\n\nFirst, let's connect your Jira account so we can fetch your tickets."),
        slack.NewActionBlock("connect_actions", btn),
    )
}

// AuthLinkView replaces the connect prompt with the authorization link.
func AuthLinkView(authURL string) slack.ModalViewRequest {
    return modal("Connect Jira", "Cancel", "setup_modal",
        mrkdwnSection(fmt.Sprintf("Click the link below to authorize Jira access:\n\n<%s|🔗 Connect Jira Account>\n\nThis will open in your browser. After authorizing, return here and run `/standup-setup` again.", authURL)),
    )
}

// BoardSelectView is the ConnectedNoBoard entry: a live board list.
func BoardSelectView(boards []domain.Board) slack.ModalViewRequest {
    options := make([]*slack.OptionBlockObject, 0, len(boards))
    for _, b := range boards {
        label := fmt.Sprintf("%s (%s)", b.Name, b.ProjectKey)
        value := fmt.Sprintf("%d:%s", b.ID, b.ProjectKey)
        options = append(options, slack.NewOptionBlockObject(value, plain(label), nil))
    }
    sel := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Choose a board..."), ActionSelectBoard, options...)
    return modal("Select Board", "Cancel", "board_selection_modal",
        mrkdwnSection("*Select your Jira board*\n\nChoose the board you want to track for your weekly standups."),
        slack.NewActionBlock("board_actions", sel),
    )
}

// BoardListFailedView renders a failed live board query as a retryable state;
// the prior selection, if any, is left untouched.
func BoardListFailedView(detail string) slack.ModalViewRequest {
    return modal("Select Board", "Cancel", "board_selection_modal",
        mrkdwnSection(fmt.Sprintf("❌ *Error fetching boards*\n\n%s\n\nTry running `/standup-setup` again.", detail)),
    )
}

// ConfiguredView is the Configured entry: current selection plus the change
// affordance.
func ConfiguredView(boardName, projectKey string) slack.ModalViewRequest {
    if boardName == "" { boardName = "Unknown" }
    if projectKey == "" { projectKey = "Unknown" }
    changeBtn := slack.NewButtonBlockElement(ActionReconfigure, "reconfigure", plain("Change Board"))
    return modal("Standup Setup", "Done", "current_config_modal",
        mrkdwnSection(fmt.Sprintf("✅ *You're already set up!*\n\nBoard: *%s*\nProject: *%s*", boardName, projectKey)),
        slack.NewDividerBlock(),
        slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "Want to use a different board?", false, false), nil, slack.NewAccessory(changeBtn)),
    )
}

// SetupCompleteView confirms a board selection.
func SetupCompleteView(boardName, projectKey string) slack.ModalViewRequest {
    return modal("Setup Complete!", "Done", "setup_complete_modal",
        mrkdwnSection(fmt.Sprintf("✅ *You're all set!*\n\nBoard: *%s*\nProject: *%s*\n\nRun `/weekly-standup` anytime to generate your report.", boardName, projectKey)),
    )
}
